package escrow

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"sync"

	"disputepay/storage"
)

// FundsRail is the external collaborator that moves actual value. The engine
// issues a Capture when a payment enters custody and a Release on every
// terminal transition, and treats a returned error as a hard failure that
// aborts the whole transition.
type FundsRail interface {
	Capture(from Address, amount *big.Int) error
	Release(to Address, amount *big.Int) error
}

var (
	railAccountPrefix = "rail/account/"
	railVaultKey      = []byte("rail/vault")
)

// AccountRail is a balance-ledger rail: Capture debits the payer account and
// credits a single escrow vault, Release debits the vault and credits the
// recipient. Balances are persisted through the backing database.
type AccountRail struct {
	mu sync.Mutex
	db storage.Database
}

// NewAccountRail opens an account rail on top of the given database.
func NewAccountRail(db storage.Database) *AccountRail {
	return &AccountRail{db: db}
}

func accountKey(addr Address) []byte {
	return []byte(railAccountPrefix + hex.EncodeToString(addr[:]))
}

func (r *AccountRail) readBalance(key []byte) (*big.Int, error) {
	raw, err := r.db.Get(key)
	if err != nil {
		if err == storage.ErrKeyNotFound {
			return big.NewInt(0), nil
		}
		return nil, err
	}
	balance, ok := new(big.Int).SetString(string(raw), 10)
	if !ok {
		return nil, fmt.Errorf("funds rail: corrupt balance for %s", key)
	}
	return balance, nil
}

func (r *AccountRail) writeBalance(key []byte, balance *big.Int) error {
	return r.db.Put(key, []byte(balance.String()))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("funds rail: amount must be positive")
	}
	return nil
}

// Capture moves the amount from the payer account into the escrow vault.
func (r *AccountRail) Capture(from Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, err := r.readBalance(accountKey(from))
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("funds rail: insufficient balance")
	}
	vault, err := r.readBalance(railVaultKey)
	if err != nil {
		return err
	}
	if err := r.writeBalance(accountKey(from), new(big.Int).Sub(balance, amount)); err != nil {
		return err
	}
	if err := r.writeBalance(railVaultKey, new(big.Int).Add(vault, amount)); err != nil {
		return err
	}
	return nil
}

// Release moves the amount from the escrow vault to the recipient account.
func (r *AccountRail) Release(to Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	vault, err := r.readBalance(railVaultKey)
	if err != nil {
		return err
	}
	if vault.Cmp(amount) < 0 {
		return fmt.Errorf("funds rail: vault balance below release amount")
	}
	balance, err := r.readBalance(accountKey(to))
	if err != nil {
		return err
	}
	if err := r.writeBalance(railVaultKey, new(big.Int).Sub(vault, amount)); err != nil {
		return err
	}
	if err := r.writeBalance(accountKey(to), new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	return nil
}

// Deposit credits an account from outside the rail. This is the on-ramp used
// by operators and tests to fund sender accounts.
func (r *AccountRail) Deposit(to Address, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, err := r.readBalance(accountKey(to))
	if err != nil {
		return err
	}
	return r.writeBalance(accountKey(to), new(big.Int).Add(balance, amount))
}

// Balance returns the current balance of an account.
func (r *AccountRail) Balance(addr Address) (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readBalance(accountKey(addr))
}

// VaultBalance returns the total value currently held in escrow custody.
func (r *AccountRail) VaultBalance() (*big.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readBalance(railVaultKey)
}
