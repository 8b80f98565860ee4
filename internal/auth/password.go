package auth

import "golang.org/x/crypto/bcrypt"

// ErrPasswordTooLong is returned by Hash for passwords over bcrypt's 72-byte limit.
var ErrPasswordTooLong = bcrypt.ErrPasswordTooLong

// Hasher hashes and verifies passwords with bcrypt at a fixed cost.
type Hasher struct {
	cost int
}

// NewHasher builds a hasher; cost is clamped to bcrypt's accepted range and
// falls back to bcrypt.DefaultCost when unset.
func NewHasher(cost int) *Hasher {
	return &Hasher{cost: clampCost(cost)}
}

// NewRotationHasher returns the hasher used for changed passwords. Its cost
// is always strictly above the baseline hasher's.
func NewRotationHasher(baseline *Hasher, cost int) *Hasher {
	cost = clampCost(cost)
	if cost <= baseline.cost && baseline.cost < bcrypt.MaxCost {
		cost = baseline.cost + 1
	}
	return &Hasher{cost: cost}
}

// Cost reports the bcrypt work factor.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash hashes a plaintext password with a fresh salt.
func (h *Hasher) Hash(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// Verify reports whether password matches the stored digest. Malformed
// digests never match.
func (h *Hasher) Verify(password, digest string) bool {
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(password)) == nil
}

func clampCost(cost int) int {
	if cost <= 0 {
		return bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		return bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		return bcrypt.MaxCost
	}
	return cost
}
