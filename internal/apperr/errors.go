// Package apperr holds the sentinel errors shared across the storage core.
//
// Business-rule violations are never returned as errors: they are collected
// as messages inside change.Result. The values here cover lookups, the
// "nothing to do" signal and the fatal conditions that abort an operation.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")

	// ErrNothingToDo is not a failure. It reports that a change would leave
	// the stored content untouched, so no commit is necessary.
	ErrNothingToDo = errors.New("nothing to do")

	ErrUnknownTransaction    = errors.New("unknown transaction")
	ErrAlreadyRolledBack     = errors.New("transaction already rolled back")
	ErrMalformedRollback     = errors.New("malformed rollback record")
	ErrMissingAuthor         = errors.New("transaction has no author")
	ErrAuthorAssigned        = errors.New("transaction author already assigned")
	ErrTransactionIDAssigned = errors.New("transaction id already assigned")
	ErrCorruptRecord         = errors.New("corrupt record")
)
