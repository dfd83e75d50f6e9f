package audiograph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrFormatMismatch is returned when two nodes with different sample
	// formats are connected. It is never returned mid-stream.
	ErrFormatMismatch = errors.New("format mismatch")
	// ErrInvalidOperation is returned when a node is used in a way its
	// kind or state doesn't allow.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrTransferFault signals a terminal failure of a transfer. It is
	// distinct from a read that returned zero samples.
	ErrTransferFault = errors.New("transfer fault")

	// ErrDisposed is returned by operations on a disposed node.
	ErrDisposed = fmt.Errorf("%w: node is disposed", ErrInvalidOperation)
	// ErrAlreadyConnected is returned when a node that accepts a single
	// connection is connected twice.
	ErrAlreadyConnected = fmt.Errorf("%w: already connected", ErrInvalidOperation)
	// ErrForeignNode is returned when nodes of different graphs are
	// connected.
	ErrForeignNode = fmt.Errorf("%w: node belongs to another graph", ErrInvalidOperation)
	// ErrGraphClosed is returned when a closed graph is used.
	ErrGraphClosed = fmt.Errorf("%w: graph is closed", ErrInvalidOperation)
)

// FormatMismatchError describes formats that failed to match at connect
// time.
type FormatMismatchError struct {
	Upstream   Format
	Downstream Format
}

func (e *FormatMismatchError) Error() string {
	return fmt.Sprintf("format mismatch: upstream %v, downstream %v", e.Upstream, e.Downstream)
}

// Is reports whether target is ErrFormatMismatch.
func (e *FormatMismatchError) Is(target error) bool {
	return target == ErrFormatMismatch
}

// Fault returns a new error that wraps ErrTransferFault.
func Fault(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTransferFault, fmt.Sprintf(format, args...))
}

// IsTerminal reports whether err ends a stream: either io.EOF or a
// transfer fault.
func IsTerminal(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, ErrTransferFault)
}

// IsCancelled reports whether err is the result of caller cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// closeErrors wraps errors that might occur when multiple nodes are
// disposed.
type closeErrors []error

func (e closeErrors) Error() string {
	s := make([]string, 0, len(e))
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Unwrap exposes wrapped errors to errors.Is and errors.As.
func (e closeErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error list is empty.
func (e closeErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
