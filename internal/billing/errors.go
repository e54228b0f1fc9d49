package billing

import (
	"errors"
	"fmt"

	"github.com/odyssey-erp/milkround/internal/platform/httpx"
)

var (
	// ErrNotFound indicates a customer, pattern, change or invoice does not exist.
	ErrNotFound = fmt.Errorf("billing: %w", httpx.ErrNotFound)
	// ErrReadOnlyMonth indicates a mutation against a confirmed month.
	ErrReadOnlyMonth = errors.New("billing: month is confirmed and read-only")
	// ErrValidation indicates malformed input.
	ErrValidation = fmt.Errorf("billing: %w", httpx.ErrValidation)
	// ErrDuplicate indicates a uniqueness conflict in the store.
	ErrDuplicate = fmt.Errorf("billing: %w", httpx.ErrDuplicate)
	// ErrOverlap indicates two active versions would cover the same date.
	ErrOverlap = errors.New("billing: active pattern versions overlap")
	// ErrPartialWrite indicates one half of a paired write failed and was compensated.
	ErrPartialWrite = errors.New("billing: partial write failure")
	// ErrDataIntegrity indicates compensation of a partial write also failed.
	ErrDataIntegrity = errors.New("billing: data integrity alarm")
	// ErrStaleUndo indicates the split was edited again after it was recorded.
	ErrStaleUndo = errors.New("billing: split changed since it was recorded")
	// ErrInvalidTransition indicates an invoice event not allowed from the current state.
	ErrInvalidTransition = errors.New("billing: invalid invoice transition")
)
