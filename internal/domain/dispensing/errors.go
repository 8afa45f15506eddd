package dispensing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when the backend has no record for an id.
	ErrNotFound = errors.New("not found")
	// ErrNoSubstitutes is reported when the formulary has no equivalent for a medicine.
	ErrNoSubstitutes = errors.New("no substitutes available")
)

// ValidationError is a precondition failure detected before any network call.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func validationErr(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UnavailableItem describes a line the backend could not cover at commit time.
type UnavailableItem struct {
	MedicineID        string `json:"medicine_id"`
	MedicineName      string `json:"medicine_name,omitempty"`
	RequiredQuantity  int    `json:"required_quantity"`
	AvailableQuantity int    `json:"available_quantity"`
}

// StockConflictError means availability changed since the snapshot the desk
// showed. The user must re-run batch allocation and resubmit.
type StockConflictError struct {
	Message string
	Items   []UnavailableItem
}

func (e *StockConflictError) Error() string {
	if len(e.Items) == 0 {
		return "stock conflict: " + e.Message
	}
	names := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		name := it.MedicineName
		if name == "" {
			name = it.MedicineID
		}
		names = append(names, fmt.Sprintf("%s (need %d, have %d)", name, it.RequiredQuantity, it.AvailableQuantity))
	}
	return "stock conflict: " + strings.Join(names, ", ")
}

// TransientNetworkError means the backend could not be reached or failed
// internally. The operation may be retried manually.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("%s: backend unavailable: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// AuthorizationError means the backend refused the action for the current role.
type AuthorizationError struct {
	Op      string
	Message string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: not authorized: %s", e.Op, e.Message)
}
