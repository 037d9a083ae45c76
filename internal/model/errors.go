package model

import "errors"

// ErrNotFound marks a lookup that returned nothing (missing receipt,
// unknown record).
var ErrNotFound = errors.New("not found")

// ConnectivityError wraps a transport failure against the ledger RPC.
// It triggers reconnection, never a processing retry.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string { return "connectivity: " + e.Err.Error() }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// DecodeError wraps a malformed ledger payload. Decode failures are logged
// and dropped rather than retried.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode: " + e.Err.Error() }
func (e *DecodeError) Unwrap() error { return e.Err }

// TransientError wraps a failure worth retrying (store unavailable).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a failure retrying cannot fix (event validation).
// Permanent failures go to the dead-letter log without burning the full
// retry budget.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Connectivity wraps err as a ConnectivityError; nil stays nil.
func Connectivity(err error) error {
	if err == nil {
		return nil
	}
	return &ConnectivityError{Err: err}
}

// Decode wraps err as a DecodeError; nil stays nil.
func Decode(err error) error {
	if err == nil {
		return nil
	}
	return &DecodeError{Err: err}
}

// Transient wraps err as a TransientError; nil stays nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// Permanent wraps err as a PermanentError; nil stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsConnectivity reports whether err is (or wraps) a ConnectivityError.
func IsConnectivity(err error) bool {
	var target *ConnectivityError
	return errors.As(err, &target)
}

// IsDecode reports whether err is (or wraps) a DecodeError.
func IsDecode(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

// IsPermanent reports whether err is (or wraps) a PermanentError.
func IsPermanent(err error) bool {
	var target *PermanentError
	return errors.As(err, &target)
}
