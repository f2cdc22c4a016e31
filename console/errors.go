package console

import (
	"errors"
	"fmt"
)

// Sentinel errors for the console.
var (
	// ErrLineTooLong indicates a client line exceeded the maximum line length.
	ErrLineTooLong = errors.New("line too long")

	// ErrAlreadyListening indicates a listen call while a listener is active.
	ErrAlreadyListening = errors.New("console already listening")

	// ErrCommandNotFound indicates a lookup or sub-command registration
	// against a command that does not exist.
	ErrCommandNotFound = errors.New("command not found")

	// ErrInvalidCommand indicates a nil command or an unusable command name.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrInvalidDescriptor indicates a file descriptor that is not a
	// listening socket.
	ErrInvalidDescriptor = errors.New("invalid file descriptor")

	// ErrSessionClosed indicates a write to a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// ProtocolErrorKind categorizes protocol and argument errors.
type ProtocolErrorKind int

const (
	// ErrKindLineTooLong indicates an over-long input line.
	ErrKindLineTooLong ProtocolErrorKind = iota
	// ErrKindInvalidNumber indicates an argument that is not a number.
	ErrKindInvalidNumber
	// ErrKindInvalidValue indicates an argument outside its allowed values.
	ErrKindInvalidValue
	// ErrKindMissingArgument indicates a required argument was not provided.
	ErrKindMissingArgument
	// ErrKindInvalidFilename indicates an unsafe or empty upload file name.
	ErrKindInvalidFilename
)

// ProtocolError is reported to the offending session; it never stops the
// console.
type ProtocolError struct {
	Kind    ProtocolErrorKind
	Value   string // The offending value
	Message string // Additional context
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	switch e.Kind {
	case ErrKindLineTooLong:
		return fmt.Sprintf("line exceeds %s bytes", e.Value)
	case ErrKindInvalidNumber:
		return fmt.Sprintf("invalid number '%s'", e.Value)
	case ErrKindInvalidValue:
		return fmt.Sprintf("invalid value '%s'", e.Value)
	case ErrKindMissingArgument:
		return e.Message
	case ErrKindInvalidFilename:
		return fmt.Sprintf("invalid file name '%s'", e.Value)
	default:
		return fmt.Sprintf("protocol error: %s", e.Value)
	}
}

// Unwrap lets errors.Is match ErrLineTooLong for over-long lines.
func (e *ProtocolError) Unwrap() error {
	if e.Kind == ErrKindLineTooLong {
		return ErrLineTooLong
	}
	return nil
}

func newInvalidNumberError(v string) error {
	return &ProtocolError{Kind: ErrKindInvalidNumber, Value: v}
}

func newInvalidValueError(v string) error {
	return &ProtocolError{Kind: ErrKindInvalidValue, Value: v}
}

func newMissingArgumentError(msg string) error {
	return &ProtocolError{Kind: ErrKindMissingArgument, Message: msg}
}

func newInvalidFilenameError(name string) error {
	return &ProtocolError{Kind: ErrKindInvalidFilename, Value: name}
}

// ListenError describes a failure to start listening.
type ListenError struct {
	Op      string // "listen" or "adopt"
	Address string
	Cause   error
}

// Error implements the error interface.
func (e *ListenError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("console %s %s: %v", e.Op, e.Address, e.Cause)
	}
	return fmt.Sprintf("console %s %s failed", e.Op, e.Address)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ListenError) Unwrap() error {
	return e.Cause
}
