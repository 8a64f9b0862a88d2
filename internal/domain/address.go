package domain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"strings"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Address identifies a participant or a contract instance.
// Text form is the base58 encoding of a 32-byte ed25519 public key.
type Address string

// ZeroAddress is the null address. It is never a valid recipient.
const ZeroAddress Address = ""

// ParseAddress decodes a base58 address and checks that it is a point on the ed25519 curve.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ZeroAddress, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return ZeroAddress, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return ZeroAddress, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidAddress, ed25519.PublicKeySize, len(raw))
	}
	if isAllZero(raw) {
		return ZeroAddress, fmt.Errorf("%w: null key", ErrInvalidAddress)
	}
	if !isOnCurve(raw) {
		return ZeroAddress, fmt.Errorf("%w: not an ed25519 point", ErrInvalidAddress)
	}
	return Address(base58.Encode(raw)), nil
}

// MustParseAddress is ParseAddress for constants and tests. It panics on error.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// AddressFromPublicKey encodes an ed25519 public key.
func AddressFromPublicKey(pub ed25519.PublicKey) Address {
	return Address(base58.Encode(pub))
}

// DeriveKey returns a deterministic ed25519 key for label.
// Used for contract instance addresses and development identities.
func DeriveKey(label string) ed25519.PrivateKey {
	seed := sha256.Sum256([]byte(label))
	return ed25519.NewKeyFromSeed(seed[:])
}

// DeriveAddress returns the address of DeriveKey(label).
func DeriveAddress(label string) Address {
	return AddressFromPublicKey(DeriveKey(label).Public().(ed25519.PublicKey))
}

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// PublicKey decodes the address into the ed25519 public key it encodes.
func (a Address) PublicKey() (ed25519.PublicKey, error) {
	if _, err := ParseAddress(string(a)); err != nil {
		return nil, err
	}
	raw, _ := base58.Decode(string(a))
	return ed25519.PublicKey(raw), nil
}

func (a Address) String() string {
	return string(a)
}

func isOnCurve(point []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
