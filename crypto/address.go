package crypto

import (
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
)

// AddressPrefix is the human-readable part of every disputepay principal
// address.
const AddressPrefix = "pay"

// AddressLength is the raw byte length of a principal identifier.
const AddressLength = 20

// Address represents a 20-byte principal identifier with a bech32 string
// form. The zero value is the "empty principal" rejected by the engine.
type Address struct {
	bytes [AddressLength]byte
}

// NewAddress builds an address from a raw 20-byte slice.
func NewAddress(b []byte) (Address, error) {
	if len(b) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes long, got %d", AddressLength, len(b))
	}
	var addr Address
	copy(addr.bytes[:], b)
	return addr, nil
}

// MustNewAddress is NewAddress for compile-time-known inputs; it panics on a
// malformed length.
func MustNewAddress(b []byte) Address {
	addr, err := NewAddress(b)
	if err != nil {
		panic(err)
	}
	return addr
}

// String renders the address in bech32 with the "pay" prefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(AddressPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns a copy-safe fixed array of the address payload.
func (a Address) Bytes() [AddressLength]byte {
	return a.bytes
}

// IsZero reports whether the address is the empty principal.
func (a Address) IsZero() bool {
	return a.bytes == [AddressLength]byte{}
}

// DecodeAddress parses a bech32 principal string and validates the prefix.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != AddressPrefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	return NewAddress(conv)
}

// EncodeBytes renders a raw 20-byte principal in bech32 form.
func EncodeBytes(b [AddressLength]byte) string {
	addr := Address{bytes: b}
	return addr.String()
}
