package main

import (
	"errors"

	"github.com/c360studio/rdfpub/batch"
	"github.com/c360studio/rdfpub/rdfsource"
	"github.com/c360studio/rdfpub/signer"
)

// Exit codes follow sysexits.h.
const (
	exitOK          = 0
	exitFailure     = 1
	exitSoftware    = 70
	exitUsage       = 64
	exitDataErr     = 65
	exitUnavailable = 69
	exitNoPerm      = 77
)

// usageError marks invalid invocations.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exitError carries an explicit exit code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	var ue usageError
	if errors.As(err, &ue) {
		return exitUsage
	}

	var pe *rdfsource.ParseError
	switch {
	case errors.Is(err, signer.ErrNoSigningKey):
		return exitNoPerm
	case errors.As(err, &pe),
		errors.Is(err, batch.ErrRecordTooLarge),
		errors.Is(err, batch.ErrNotPrepared),
		errors.Is(err, rdfsource.ErrUnknownFormat):
		return exitDataErr
	default:
		return exitFailure
	}
}
