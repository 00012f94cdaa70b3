package filesystem

import (
	"errors"
	"fmt"

	"securelink/internal/server/database"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidOperation   = errors.New("invalid operation")
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// translate maps store errors onto the engine's error kinds.
func translate(err error, id fmt.Stringer) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNodeNotFound):
		return fmt.Errorf("%w: node %s", ErrNotFound, id)
	case errors.Is(err, database.ErrHasChildren):
		return fmt.Errorf("%w: node %s still has children", ErrInvalidOperation, id)
	case errors.Is(err, database.ErrStorageRefTaken):
		return fmt.Errorf("%w: storage reference already in use", ErrInvalidOperation)
	}
	return err
}
