package security

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vendi-market/vendi/internal/observability"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// MaxPasswordBytes is the longest input bcrypt accepts.
const MaxPasswordBytes = 72

var ErrPasswordTooLong = errors.New("password exceeds 72 bytes")

// PasswordHasher wraps bcrypt and bounds the number of concurrent hash
// computations so a burst of logins cannot saturate every core.
type PasswordHasher struct {
	cost int
	sem  *semaphore.Weighted

	dummyOnce sync.Once
	dummyHash string
	dummyErr  error
}

func NewPasswordHasher(cost, concurrency int) *PasswordHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &PasswordHasher{cost: cost, sem: semaphore.NewWeighted(int64(concurrency))}
}

func (h *PasswordHasher) Cost() int {
	return h.cost
}

func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	start := time.Now()
	out, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	observability.RecordPasswordHash(ctx, "hash", time.Since(start))
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", ErrPasswordTooLong
		}
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(out), nil
}

// Verify reports whether password matches hash. A mismatch is (false, nil);
// a malformed stored hash is (false, err).
func (h *PasswordHasher) Verify(ctx context.Context, password, hash string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	start := time.Now()
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	observability.RecordPasswordHash(ctx, "verify", time.Since(start))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword), errors.Is(err, bcrypt.ErrPasswordTooLong):
		return false, nil
	default:
		return false, fmt.Errorf("compare password hash: %w", err)
	}
}

// VerifyDummy spends the same work as a real Verify against a hash no input
// can match. It is used on lookup misses so response timing does not reveal
// whether an account or selector exists.
func (h *PasswordHasher) VerifyDummy(ctx context.Context, password string) {
	h.dummyOnce.Do(func() {
		out, err := bcrypt.GenerateFromPassword([]byte("vendi-dummy-credential"), h.cost)
		h.dummyHash, h.dummyErr = string(out), err
	})
	if h.dummyErr != nil {
		return
	}
	_, _ = h.Verify(ctx, password, h.dummyHash)
}
