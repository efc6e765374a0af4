package store

import "errors"

// Sentinel errors classifying store failures; their messages double as
// the error strings surfaced over IPC.
var (
	ErrNotFound       = errors.New("not_found")
	ErrValidation     = errors.New("validation_error")
	ErrDecryptFailure = errors.New("decrypt_failure")
	ErrIO             = errors.New("io_error")
	ErrCorruptedVault = errors.New("corrupted_vault")

	// ErrDecryptFailedEntries is returned by List when the strict decrypt
	// policy (config.StrictListDecryptFailures) is enabled and at least
	// one entry fails to decrypt while at least one other succeeds.
	ErrDecryptFailedEntries = errors.New("decrypt_failed_entries")
)
