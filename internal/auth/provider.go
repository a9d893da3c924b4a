// Package auth holds the identity provider integration and the passenger
// session built on top of it.
package auth

import (
	"context"
	"errors"
	"net"

	"bustracker/internal/fleet"
)

// Provider is an external identity provider.
type Provider interface {
	// SignIn runs an interactive sign-in and blocks until it completes,
	// fails or ctx is done.
	SignIn(ctx context.Context) (fleet.Principal, error)
	SignOut(ctx context.Context) error
	CurrentUser() *fleet.Principal
	// OnAuthStateChanged calls fn with the current principal (nil when signed
	// out) and again after every change, until unsubscribe is called.
	OnAuthStateChanged(fn func(*fleet.Principal)) (unsubscribe func())
}

var (
	ErrPopupBlocked    = errors.New("sign-in popup blocked")
	ErrNetwork         = errors.New("network error during sign-in")
	ErrSignInCancelled = errors.New("sign-in cancelled")
	ErrSignInFailed    = errors.New("sign-in failed")
	ErrNoPendingSignIn = errors.New("no pending sign-in")
)

var messages = map[error]string{
	ErrPopupBlocked:    "Google sign-in popup was blocked. Please allow popups and try again.",
	ErrNetwork:         "Network error. Please check your internet connection and try again.",
	ErrSignInCancelled: "Google sign-in was cancelled.",
	ErrSignInFailed:    "Google sign-in failed. Please try again.",
}

// Classify maps a provider error onto one of the four sign-in kinds.
func Classify(err error) error {
	var netErr net.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPopupBlocked):
		return ErrPopupBlocked
	case errors.Is(err, ErrSignInCancelled), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// DeadlineExceeded is also a net.Error, so it must be matched first
		return ErrSignInCancelled
	case errors.Is(err, ErrNetwork), errors.As(err, &netErr):
		return ErrNetwork
	default:
		return ErrSignInFailed
	}
}

// Message is the user-facing text for a classified sign-in error.
func Message(err error) string {
	if msg, ok := messages[Classify(err)]; ok {
		return msg
	}
	return "An unexpected error occurred during sign-in."
}

// resultLabel is the metrics label for a sign-in outcome.
func resultLabel(err error) string {
	switch Classify(err) {
	case nil:
		return "ok"
	case ErrPopupBlocked:
		return "popup"
	case ErrNetwork:
		return "network"
	case ErrSignInCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}
