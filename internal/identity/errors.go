package identity

import "github.com/telmed/telmed/internal/apperr"

var (
	// ErrNotFound indicates no principal matches the lookup.
	ErrNotFound = &apperr.Error{Kind: apperr.ErrNotFound, Message: "principal not found"}
	// ErrDuplicatePhone indicates the normalized phone is already registered for the kind.
	ErrDuplicatePhone = &apperr.Error{Kind: apperr.ErrConflict, Message: "phone number already registered"}
	// ErrStaleVersion indicates a concurrent update won the compare-and-swap.
	ErrStaleVersion = &apperr.Error{Kind: apperr.ErrConflict, Message: "principal was modified concurrently"}
)
