// Package password hashes and verifies user passwords with bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrTooLong is returned for passwords bcrypt cannot hash without truncation.
var ErrTooLong = errors.New("password is longer than 72 bytes")

type Hasher struct {
	cost int
}

// NewHasher returns a Hasher using the given bcrypt cost.
// Zero selects bcrypt.DefaultCost.
func NewHasher(cost int) (*Hasher, error) {
	const op = "password.NewHasher"

	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("%s: cost %d out of range [%d, %d]", op, cost, bcrypt.MinCost, bcrypt.MaxCost)
	}

	return &Hasher{cost: cost}, nil
}

func (h *Hasher) Hash(plain string) ([]byte, error) {
	const op = "password.Hash"

	hash, err := bcrypt.GenerateFromPassword([]byte(plain), h.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, fmt.Errorf("%s: %w", op, ErrTooLong)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return hash, nil
}

// Verify reports whether plain matches hash. A malformed hash is a mismatch.
func (h *Hasher) Verify(plain string, hash []byte) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(plain)) == nil
}
