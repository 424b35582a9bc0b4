package service

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/psicoconnect/server-go/internal/errors"
)

const (
	MinPasswordLength = 6
	// MaxPasswordLength is in bytes; bcrypt refuses anything longer.
	MaxPasswordLength = 72
)

func validatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return apperrors.ValidationError(fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
	}
	if len(password) > MaxPasswordLength {
		return apperrors.ValidationError(fmt.Sprintf("Password must be at most %d bytes", MaxPasswordLength))
	}
	return nil
}

// PasswordHasher runs bcrypt on a bounded number of goroutines so a burst of
// registrations or logins cannot starve unrelated requests of CPU.
type PasswordHasher struct {
	sem  *semaphore.Weighted
	cost int
}

func NewPasswordHasher(concurrency, cost int) *PasswordHasher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &PasswordHasher{
		sem:  semaphore.NewWeighted(int64(concurrency)),
		cost: cost,
	}
}

func (h *PasswordHasher) Hash(ctx context.Context, password string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperrors.ValidationError(fmt.Sprintf("Password must be at most %d bytes", MaxPasswordLength)).WithCause(err)
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Compare reports whether password matches hash. A mismatch is not an error.
func (h *PasswordHasher) Compare(ctx context.Context, hash, password string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, fmt.Errorf("acquire hash slot: %w", err)
	}
	defer h.sem.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("compare password: %w", err)
	}
	return true, nil
}
