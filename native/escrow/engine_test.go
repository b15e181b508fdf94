package escrow

import (
	"bytes"
	"fmt"
	"math/big"
	"testing"

	"disputepay/core/events"
	"disputepay/storage"
)

const testNow int64 = 1_700_000_000

func newTestAddress(fill byte) Address {
	var addr Address
	copy(addr[:], bytes.Repeat([]byte{fill}, len(addr)))
	return addr
}

// mockRail is an in-memory funds rail with injectable failures.
type mockRail struct {
	balances    map[Address]*big.Int
	vault       *big.Int
	captureErr  error
	releaseErr  error
	failRelease int // fail the nth release (1-based); 0 disables
	releases    int
	captures    int
}

func newMockRail() *mockRail {
	return &mockRail{
		balances: make(map[Address]*big.Int),
		vault:    big.NewInt(0),
	}
}

func (m *mockRail) deposit(addr Address, amount int64) {
	m.balances[addr] = big.NewInt(amount)
}

func (m *mockRail) balance(addr Address) *big.Int {
	if b, ok := m.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return big.NewInt(0)
}

func (m *mockRail) Capture(from Address, amount *big.Int) error {
	if m.captureErr != nil {
		return m.captureErr
	}
	m.captures++
	balance := m.balance(from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	m.balances[from] = balance.Sub(balance, amount)
	m.vault.Add(m.vault, amount)
	return nil
}

func (m *mockRail) Release(to Address, amount *big.Int) error {
	if m.releaseErr != nil {
		return m.releaseErr
	}
	m.releases++
	if m.failRelease > 0 && m.releases == m.failRelease {
		return fmt.Errorf("release rejected")
	}
	if m.vault.Cmp(amount) < 0 {
		return fmt.Errorf("vault underflow")
	}
	m.vault.Sub(m.vault, amount)
	balance := m.balance(to)
	m.balances[to] = balance.Add(balance, amount)
	return nil
}

type capturingEmitter struct {
	records []*events.Record
}

func (c *capturingEmitter) Emit(evt events.Event) {
	if rec, ok := evt.(*events.Record); ok {
		c.records = append(c.records, rec.Clone())
	}
}

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, rec.Type)
	}
	return out
}

type testFixture struct {
	engine   *Engine
	ledger   *Ledger
	registry *Registry
	rail     *mockRail
	emitter  *capturingEmitter
	owner    Address
	sender   Address
	receiver Address
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	ledger, err := NewLedger(storage.NewMemDB())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	owner := newTestAddress(0x01)
	registry, err := NewRegistry(owner)
	if err != nil {
		t.Fatalf("create registry: %v", err)
	}
	rail := newMockRail()
	emitter := &capturingEmitter{}
	engine := NewEngine(ledger, registry, rail)
	engine.SetEmitter(emitter)
	engine.SetNowFunc(func() int64 { return testNow })
	registry.SetEmitter(emitter)
	fx := &testFixture{
		engine:   engine,
		ledger:   ledger,
		registry: registry,
		rail:     rail,
		emitter:  emitter,
		owner:    owner,
		sender:   newTestAddress(0x02),
		receiver: newTestAddress(0x03),
	}
	rail.deposit(fx.sender, 1_000)
	return fx
}

func (fx *testFixture) createPayment(t *testing.T, amount int64) *Payment {
	t.Helper()
	payment, err := fx.engine.CreatePayment(fx.sender, fx.receiver, big.NewInt(amount))
	if err != nil {
		t.Fatalf("create payment: %v", err)
	}
	return payment
}

func (fx *testFixture) advancePastDeadline() {
	fx.engine.SetNowFunc(func() int64 { return testNow + DisputeWindow + 1 })
}

func expectKind(t *testing.T, err error, kind ErrorKind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", kind)
	}
	if got := Kind(err); got != kind {
		t.Fatalf("expected %s error, got %s (%v)", kind, got, err)
	}
}

func TestCreatePayment(t *testing.T) {
	fx := newTestFixture(t)

	payment := fx.createPayment(t, 100)
	if payment.ID != 0 {
		t.Fatalf("expected first id 0, got %d", payment.ID)
	}
	if payment.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", payment.Status)
	}
	if payment.CreatedAt != testNow {
		t.Fatalf("unexpected creation time %d", payment.CreatedAt)
	}
	if payment.DisputeDeadline != testNow+DisputeWindow {
		t.Fatalf("unexpected dispute deadline %d", payment.DisputeDeadline)
	}
	if got := fx.engine.PaymentCounter(); got != 1 {
		t.Fatalf("expected counter 1, got %d", got)
	}
	if fx.rail.vault.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 in custody, got %s", fx.rail.vault)
	}
	if fx.rail.balance(fx.sender).Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("sender balance not debited: %s", fx.rail.balance(fx.sender))
	}

	second := fx.createPayment(t, 50)
	if second.ID != 1 {
		t.Fatalf("expected second id 1, got %d", second.ID)
	}
	if got := fx.engine.PaymentCounter(); got != 2 {
		t.Fatalf("expected counter 2, got %d", got)
	}
}

func TestCreatePaymentEvent(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	if len(fx.emitter.records) != 1 {
		t.Fatalf("expected one event, got %d", len(fx.emitter.records))
	}
	rec := fx.emitter.records[0]
	if rec.Type != EventTypePaymentCreated {
		t.Fatalf("unexpected event type %s", rec.Type)
	}
	if rec.Attributes["id"] != "0" {
		t.Fatalf("unexpected id attr %q", rec.Attributes["id"])
	}
	if rec.Attributes["amount"] != "100" {
		t.Fatalf("unexpected amount attr %q", rec.Attributes["amount"])
	}
	if rec.Timestamp != payment.CreatedAt {
		t.Fatalf("event timestamp %d does not match creation %d", rec.Timestamp, payment.CreatedAt)
	}
}

func TestCreatePaymentValidations(t *testing.T) {
	fx := newTestFixture(t)

	cases := []struct {
		name     string
		sender   Address
		receiver Address
		amount   *big.Int
		kind     ErrorKind
	}{
		{"zero amount", fx.sender, fx.receiver, big.NewInt(0), KindInvalidArgument},
		{"nil amount", fx.sender, fx.receiver, nil, KindInvalidArgument},
		{"negative amount", fx.sender, fx.receiver, big.NewInt(-5), KindInvalidArgument},
		{"empty receiver", fx.sender, Address{}, big.NewInt(100), KindInvalidArgument},
		{"self payment", fx.sender, fx.sender, big.NewInt(100), KindInvalidArgument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fx.engine.CreatePayment(tc.sender, tc.receiver, tc.amount)
			expectKind(t, err, tc.kind)
		})
	}
	if got := fx.engine.PaymentCounter(); got != 0 {
		t.Fatalf("counter moved on failed creation: %d", got)
	}
	if fx.rail.captures != 0 {
		t.Fatalf("rail captured on failed creation")
	}
}

func TestCreatePaymentRailFailure(t *testing.T) {
	fx := newTestFixture(t)
	fx.rail.captureErr = fmt.Errorf("rail offline")

	_, err := fx.engine.CreatePayment(fx.sender, fx.receiver, big.NewInt(100))
	expectKind(t, err, KindRailFailure)
	if got := fx.engine.PaymentCounter(); got != 0 {
		t.Fatalf("counter moved on rail failure: %d", got)
	}
}

func TestCompletePayment(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	if err := fx.engine.CompletePayment(fx.sender, payment.ID); err != nil {
		t.Fatalf("complete payment: %v", err)
	}
	stored, err := fx.engine.GetPayment(payment.ID)
	if err != nil {
		t.Fatalf("get payment: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if fx.rail.balance(fx.receiver).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("receiver not credited: %s", fx.rail.balance(fx.receiver))
	}

	err = fx.engine.CompletePayment(fx.sender, payment.ID)
	expectKind(t, err, KindInvalidState)
	if fx.rail.balance(fx.receiver).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("double release detected: %s", fx.rail.balance(fx.receiver))
	}
}

func TestCompletePaymentAuthorization(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	expectKind(t, fx.engine.CompletePayment(fx.receiver, payment.ID), KindUnauthorized)
	expectKind(t, fx.engine.CompletePayment(newTestAddress(0x42), payment.ID), KindUnauthorized)
}

func TestCompletePaymentAfterDeadline(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)
	fx.advancePastDeadline()

	expectKind(t, fx.engine.CompletePayment(fx.sender, payment.ID), KindDeadlineViolation)
}

func TestCompletePaymentUnknownID(t *testing.T) {
	fx := newTestFixture(t)
	expectKind(t, fx.engine.CompletePayment(fx.sender, 99), KindNotFound)
}

func TestClaimPayment(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	expectKind(t, fx.engine.ClaimPayment(fx.receiver, payment.ID), KindDeadlineViolation)

	fx.advancePastDeadline()
	expectKind(t, fx.engine.ClaimPayment(fx.sender, payment.ID), KindUnauthorized)

	if err := fx.engine.ClaimPayment(fx.receiver, payment.ID); err != nil {
		t.Fatalf("claim payment: %v", err)
	}
	stored, _ := fx.engine.GetPayment(payment.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if fx.rail.balance(fx.receiver).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("receiver not credited: %s", fx.rail.balance(fx.receiver))
	}

	last := fx.emitter.records[len(fx.emitter.records)-1]
	if last.Type != EventTypePaymentClaimed {
		t.Fatalf("expected claim event, got %s", last.Type)
	}
}

func TestClaimPaymentAtExactDeadline(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)
	fx.engine.SetNowFunc(func() int64 { return payment.DisputeDeadline })

	if err := fx.engine.ClaimPayment(fx.receiver, payment.ID); err != nil {
		t.Fatalf("claim at exact deadline should succeed: %v", err)
	}
}

func TestAutoCompletePayment(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	anyone := newTestAddress(0x77)
	expectKind(t, fx.engine.AutoCompletePayment(anyone, payment.ID), KindDeadlineViolation)

	fx.advancePastDeadline()
	if err := fx.engine.AutoCompletePayment(anyone, payment.ID); err != nil {
		t.Fatalf("auto complete: %v", err)
	}
	stored, _ := fx.engine.GetPayment(payment.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
	if fx.rail.balance(fx.receiver).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("receiver not credited: %s", fx.rail.balance(fx.receiver))
	}

	// Subsequent calls fail without moving value again.
	expectKind(t, fx.engine.AutoCompletePayment(anyone, payment.ID), KindInvalidState)
	if fx.rail.balance(fx.receiver).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("double release detected")
	}
}

func TestRequestRefund(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	reason := "Product never shipped"
	evidence := "Tracking number shows no movement"
	if err := fx.engine.RequestRefund(fx.sender, payment.ID, reason, evidence); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	stored, _ := fx.engine.GetPayment(payment.ID)
	if stored.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", stored.Status)
	}
	if stored.DisputeReason != reason || stored.Evidence != evidence {
		t.Fatalf("reason/evidence not recorded verbatim: %q %q", stored.DisputeReason, stored.Evidence)
	}
	if fx.rail.vault.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("custody must not move on dispute: %s", fx.rail.vault)
	}
}

func TestRequestRefundValidations(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	expectKind(t, fx.engine.RequestRefund(fx.receiver, payment.ID, "reason", ""), KindUnauthorized)
	expectKind(t, fx.engine.RequestRefund(fx.sender, payment.ID, "", ""), KindInvalidArgument)
	expectKind(t, fx.engine.RequestRefund(fx.sender, 99, "reason", ""), KindNotFound)

	if err := fx.engine.CompletePayment(fx.sender, payment.ID); err != nil {
		t.Fatalf("complete payment: %v", err)
	}
	expectKind(t, fx.engine.RequestRefund(fx.sender, payment.ID, "reason", ""), KindInvalidState)
}

func TestRequestRefundDeadline(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	// The window closes exactly at the deadline.
	fx.engine.SetNowFunc(func() int64 { return payment.DisputeDeadline })
	expectKind(t, fx.engine.RequestRefund(fx.sender, payment.ID, "too late", ""), KindDeadlineViolation)

	fx.engine.SetNowFunc(func() int64 { return payment.DisputeDeadline - 1 })
	if err := fx.engine.RequestRefund(fx.sender, payment.ID, "just in time", ""); err != nil {
		t.Fatalf("refund one second before deadline: %v", err)
	}
}

func TestResolveDisputeApprove(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)
	if err := fx.engine.RequestRefund(fx.sender, payment.ID, "defective", ""); err != nil {
		t.Fatalf("request refund: %v", err)
	}

	if err := fx.engine.ResolveDispute(fx.owner, payment.ID, true); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	stored, _ := fx.engine.GetPayment(payment.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.Status)
	}
	if fx.rail.balance(fx.sender).Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("sender not refunded: %s", fx.rail.balance(fx.sender))
	}
	if fx.rail.balance(fx.receiver).Sign() != 0 {
		t.Fatalf("receiver credited on refund: %s", fx.rail.balance(fx.receiver))
	}

	expectKind(t, fx.engine.ResolveDispute(fx.owner, payment.ID, true), KindInvalidState)
}

func TestResolveDisputeReject(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)
	if err := fx.engine.RequestRefund(fx.sender, payment.ID, "defective", ""); err != nil {
		t.Fatalf("request refund: %v", err)
	}

	if err := fx.engine.ResolveDispute(fx.owner, payment.ID, false); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	stored, _ := fx.engine.GetPayment(payment.ID)
	if stored.Status != StatusRejected {
		t.Fatalf("expected rejected, got %s", stored.Status)
	}
	if fx.rail.balance(fx.receiver).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("receiver not credited: %s", fx.rail.balance(fx.receiver))
	}
}

func TestResolveDisputeAuthorization(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)
	if err := fx.engine.RequestRefund(fx.sender, payment.ID, "defective", ""); err != nil {
		t.Fatalf("request refund: %v", err)
	}

	expectKind(t, fx.engine.ResolveDispute(fx.sender, payment.ID, true), KindUnauthorized)

	// A freshly appointed resolver may adjudicate without being an admin.
	resolver := newTestAddress(0x55)
	if err := fx.registry.UpdateResolver(fx.owner, resolver); err != nil {
		t.Fatalf("update resolver: %v", err)
	}
	if fx.registry.IsAdmin(resolver) {
		t.Fatalf("resolver must not implicitly join the admin set")
	}
	if err := fx.engine.ResolveDispute(resolver, payment.ID, true); err != nil {
		t.Fatalf("resolver adjudication: %v", err)
	}
}

func TestResolveDisputeByNewAdmin(t *testing.T) {
	fx := newTestFixture(t)
	admin := newTestAddress(0x66)
	if err := fx.registry.AddAdmin(fx.owner, admin); err != nil {
		t.Fatalf("add admin: %v", err)
	}

	payment := fx.createPayment(t, 100)
	if err := fx.engine.RequestRefund(fx.sender, payment.ID, "defective", ""); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	if err := fx.engine.ResolveDispute(admin, payment.ID, false); err != nil {
		t.Fatalf("admin adjudication: %v", err)
	}
}

func TestResolveDisputeNotDisputed(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)
	expectKind(t, fx.engine.ResolveDispute(fx.owner, payment.ID, true), KindInvalidState)
}

func TestBatchResolve(t *testing.T) {
	fx := newTestFixture(t)
	for i := 0; i < 3; i++ {
		payment := fx.createPayment(t, 100)
		if err := fx.engine.RequestRefund(fx.sender, payment.ID, fmt.Sprintf("dispute %d", i), ""); err != nil {
			t.Fatalf("request refund %d: %v", i, err)
		}
	}

	if err := fx.engine.BatchResolve(fx.owner, []uint64{0, 1, 2}, []bool{true, false, true}); err != nil {
		t.Fatalf("batch resolve: %v", err)
	}
	want := []PaymentStatus{StatusRefunded, StatusRejected, StatusRefunded}
	for id, status := range want {
		stored, _ := fx.engine.GetPayment(uint64(id))
		if stored.Status != status {
			t.Fatalf("payment %d: expected %s, got %s", id, status, stored.Status)
		}
	}
	// Two refunds back to the sender, one release to the receiver.
	if fx.rail.balance(fx.sender).Cmp(big.NewInt(900)) != 0 {
		t.Fatalf("sender balance after batch: %s", fx.rail.balance(fx.sender))
	}
	if fx.rail.balance(fx.receiver).Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("receiver balance after batch: %s", fx.rail.balance(fx.receiver))
	}
	if fx.rail.vault.Sign() != 0 {
		t.Fatalf("custody not drained after batch: %s", fx.rail.vault)
	}
}

func TestBatchResolveValidations(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)
	if err := fx.engine.RequestRefund(fx.sender, payment.ID, "dispute", ""); err != nil {
		t.Fatalf("request refund: %v", err)
	}

	expectKind(t, fx.engine.BatchResolve(fx.sender, []uint64{0}, []bool{true}), KindUnauthorized)
	expectKind(t, fx.engine.BatchResolve(fx.owner, nil, nil), KindInvalidArgument)
	expectKind(t, fx.engine.BatchResolve(fx.owner, []uint64{0, 1}, []bool{true}), KindInvalidArgument)
	expectKind(t, fx.engine.BatchResolve(fx.owner, []uint64{0, 0}, []bool{true, true}), KindInvalidArgument)

	stored, _ := fx.engine.GetPayment(payment.ID)
	if stored.Status != StatusDisputed {
		t.Fatalf("failed batch mutated payment: %s", stored.Status)
	}
}

func TestBatchResolveAtomicValidation(t *testing.T) {
	fx := newTestFixture(t)
	disputed := fx.createPayment(t, 100)
	if err := fx.engine.RequestRefund(fx.sender, disputed.ID, "dispute", ""); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	pending := fx.createPayment(t, 50)

	err := fx.engine.BatchResolve(fx.owner, []uint64{disputed.ID, pending.ID}, []bool{true, true})
	expectKind(t, err, KindInvalidState)

	stored, _ := fx.engine.GetPayment(disputed.ID)
	if stored.Status != StatusDisputed {
		t.Fatalf("valid pair applied despite batch failure: %s", stored.Status)
	}
	if fx.rail.vault.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("custody moved despite batch failure: %s", fx.rail.vault)
	}
}

func TestBatchResolveRailFailureRollsBack(t *testing.T) {
	fx := newTestFixture(t)
	for i := 0; i < 2; i++ {
		payment := fx.createPayment(t, 100)
		if err := fx.engine.RequestRefund(fx.sender, payment.ID, "dispute", ""); err != nil {
			t.Fatalf("request refund %d: %v", i, err)
		}
	}
	senderBefore := fx.rail.balance(fx.sender)
	fx.rail.failRelease = 2 // second release in the commit pass fails

	err := fx.engine.BatchResolve(fx.owner, []uint64{0, 1}, []bool{true, true})
	expectKind(t, err, KindRailFailure)

	for id := uint64(0); id < 2; id++ {
		stored, _ := fx.engine.GetPayment(id)
		if stored.Status != StatusDisputed {
			t.Fatalf("payment %d mutated despite rail failure: %s", id, stored.Status)
		}
	}
	if fx.rail.balance(fx.sender).Cmp(senderBefore) != 0 {
		t.Fatalf("sender balance changed despite rollback: %s", fx.rail.balance(fx.sender))
	}
	if fx.rail.vault.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("custody leaked on rollback: %s", fx.rail.vault)
	}
}

func TestEndToEndRefundFlow(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)
	if payment.ID != 0 {
		t.Fatalf("expected id 0, got %d", payment.ID)
	}

	fx.engine.SetNowFunc(func() int64 { return testNow + 24*60*60 })
	if err := fx.engine.RequestRefund(fx.sender, 0, "never shipped", ""); err != nil {
		t.Fatalf("request refund: %v", err)
	}
	stored, _ := fx.engine.GetPayment(0)
	if stored.Status != StatusDisputed {
		t.Fatalf("expected disputed, got %s", stored.Status)
	}

	if err := fx.engine.ResolveDispute(fx.owner, 0, true); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}
	stored, _ = fx.engine.GetPayment(0)
	if stored.Status != StatusRefunded {
		t.Fatalf("expected refunded, got %s", stored.Status)
	}
	if fx.rail.balance(fx.sender).Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("sender balance not restored: %s", fx.rail.balance(fx.sender))
	}
	if fx.rail.balance(fx.receiver).Sign() != 0 {
		t.Fatalf("receiver balance changed: %s", fx.rail.balance(fx.receiver))
	}

	expectKind(t, fx.engine.ResolveDispute(fx.owner, 0, true), KindInvalidState)

	wantEvents := []string{
		EventTypePaymentCreated,
		EventTypeRefundRequested,
		EventTypeDisputeResolved,
	}
	got := fx.emitter.types()
	if len(got) != len(wantEvents) {
		t.Fatalf("expected %d events, got %v", len(wantEvents), got)
	}
	for i, want := range wantEvents {
		if got[i] != want {
			t.Fatalf("event %d: expected %s, got %s", i, want, got[i])
		}
	}
}

func TestStorageFailureRestoresCustody(t *testing.T) {
	fx := newTestFixture(t)
	payment := fx.createPayment(t, 100)

	// A failed release must leave the record pending and funds in the vault.
	fx.rail.releaseErr = fmt.Errorf("rail offline")
	err := fx.engine.CompletePayment(fx.sender, payment.ID)
	expectKind(t, err, KindRailFailure)

	stored, _ := fx.engine.GetPayment(payment.ID)
	if stored.Status != StatusPending {
		t.Fatalf("record mutated despite rail failure: %s", stored.Status)
	}
	if fx.rail.vault.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("custody moved despite rail failure: %s", fx.rail.vault)
	}
}
