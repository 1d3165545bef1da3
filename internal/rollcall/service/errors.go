package service

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks a management request the caller must fix.
	ErrValidation   = errors.New("validation failed")
	ErrMissingUID   = fmt.Errorf("%w: uid is required", ErrValidation)
	ErrMissingName  = fmt.Errorf("%w: name is required", ErrValidation)
	ErrMalformedUID = fmt.Errorf("%w: uid must be hexadecimal", ErrValidation)

	// ErrStorage marks a failed write to the user store.
	ErrStorage = errors.New("storage failure")

	// ErrInvalidScan is returned for an empty identifier.  Nothing is
	// logged to the ledger or broadcast.
	ErrInvalidScan = errors.New("invalid scan: empty identifier")
)
