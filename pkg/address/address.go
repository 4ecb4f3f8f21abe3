package address

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	// Size is the byte length of an address.
	Size = 32
	// MaxSeedLen bounds a single derivation seed.
	MaxSeedLen = 32
	// MaxSeeds bounds the number of seeds (bump included).
	MaxSeeds = 16

	pdaMarker = "ProgramDerivedAddress"
)

var (
	ErrInvalidLength      = errors.New("address: invalid length")
	ErrMaxSeedLength      = errors.New("address: seed too long")
	ErrTooManySeeds       = errors.New("address: too many seeds")
	ErrOnCurve            = errors.New("address: derived address is on the ed25519 curve")
	ErrNoViableBump       = errors.New("address: no viable bump seed")
	ErrDerivationMismatch = errors.New("address: derivation does not match")
)

// Address is a 32-byte account identifier rendered in base58.
type Address [Size]byte

// Zero is the empty address.
var Zero Address

func (a Address) String() string { return base58.Encode(a[:]) }

// Short returns the first characters of the base58 form for log lines.
func (a Address) Short() string {
	s := a.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

func (a Address) IsZero() bool { return a == Zero }

func (a Address) Bytes() []byte { return a[:] }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Parse decodes a base58 address.
func Parse(s string) (Address, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return Zero, fmt.Errorf("address: decode %q: %w", s, err)
	}
	if len(raw) != Size {
		return Zero, ErrInvalidLength
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// MustParse is Parse for package-level constants.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Keypair is an ed25519 signing identity whose public key is its address.
type Keypair struct {
	Public  Address
	Private ed25519.PrivateKey
}

// NewKeypair generates a random wallet identity.
func NewKeypair() (Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Keypair{}, err
	}
	var a Address
	copy(a[:], pub)
	return Keypair{Public: a, Private: priv}, nil
}

// Sign signs msg with the keypair's private key.
func (k Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify reports whether sig is a valid signature of msg by addr.
func Verify(addr Address, msg, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(addr[:]), msg, sig)
}

// NewUnique returns a fresh random address for accounts that have no
// derivation (mints, markets, queues).
func NewUnique() Address {
	kp, err := NewKeypair()
	if err != nil {
		panic(fmt.Sprintf("address: entropy unavailable: %v", err))
	}
	return kp.Public
}

// CreateProgramAddress hashes seeds under program. The result must not be a
// valid curve point so that no private key can exist for it.
func CreateProgramAddress(seeds [][]byte, program Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Zero, ErrTooManySeeds
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > MaxSeedLen {
			return Zero, ErrMaxSeedLength
		}
		h.Write(s)
	}
	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	var a Address
	copy(a[:], h.Sum(nil))
	if onCurve(a[:]) {
		return Zero, ErrOnCurve
	}
	return a, nil
}

// FindProgramAddress searches bumps from 255 downwards and returns the first
// off-curve address together with its bump.
func FindProgramAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump > 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		a, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return a, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Zero, 0, err
		}
	}
	return Zero, 0, ErrNoViableBump
}

// VerifyProgramAddress re-derives the address from seeds and the stored bump
// and checks it against expected.
func VerifyProgramAddress(seeds [][]byte, bump uint8, program, expected Address) error {
	withBump := append(append([][]byte{}, seeds...), []byte{bump})
	a, err := CreateProgramAddress(withBump, program)
	if err != nil {
		return err
	}
	if a != expected {
		return ErrDerivationMismatch
	}
	return nil
}

func onCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
