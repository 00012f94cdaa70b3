package policy

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"securelink/internal/server/node"
)

var (
	ErrPINRequired = errors.New("pin required")
	ErrInvalidPIN  = errors.New("invalid pin")
)

// HashPIN returns the bcrypt hash stored in a node's PinHash.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash pin: %w", err)
	}
	return string(hash), nil
}

// CheckPIN verifies pin against the node's PinHash. Nodes without a PIN always
// pass. The comparison inside bcrypt is constant time.
func CheckPIN(h *node.Header, pin string) error {
	if !h.HasPin() {
		return nil
	}
	if pin == "" {
		return ErrPINRequired
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*h.PinHash), []byte(pin)); err != nil {
		return ErrInvalidPIN
	}
	return nil
}
