// Package lmerr defines the stable error taxonomy of the chat server.
//
// Every kind carries a fixed numeric code and a snake_case name. Codes are
// part of the observable surface (they appear in logs and replies) and must
// never be renumbered.
package lmerr

import (
	"errors"
	"fmt"
)

// Code is a stable numeric identifier for an error kind.
type Code int

const (
	CodeOK Code = iota

	// Package errors.
	CodeIncompletePackage
	CodeEmptyLength
	CodeInvalidData
	CodeDataTooSmall
	CodeDataTooLarge
	CodeHashMismatched

	// Network errors.
	CodeNullTLSContext
	CodeNullTLSCallbackHandle
	CodeNullSocketPointer
	CodeConnectionTestFailed
	CodeSocketPointerExisted
	CodeSocketPointerNotExisted

	// User errors.
	CodePasswordAlreadySet
	CodePasswordMismatched
	CodeUserNotExisted

	// Private room errors.
	CodePrivateRoomNotExisted
	CodePrivateRoomUnableToUse
	CodePrivateRoomExisted

	// Group room errors.
	CodeGroupRoomNotExisted
	CodeGroupRoomUnableToUse

	// Verification errors.
	CodeInvalidVerification
	CodeVerificationExisted
	CodeVerificationNotExisted

	// Permission errors.
	CodeNoPermission

	// Request supervision.
	CodeTimedOut
)

var kindNames = map[Code]string{
	CodeOK:                      "ok",
	CodeIncompletePackage:       "incomplete_package",
	CodeEmptyLength:             "empty_length",
	CodeInvalidData:             "invalid_data",
	CodeDataTooSmall:            "data_too_small",
	CodeDataTooLarge:            "data_too_large",
	CodeHashMismatched:          "hash_mismatched",
	CodeNullTLSContext:          "null_tls_context",
	CodeNullTLSCallbackHandle:   "null_tls_callback_handle",
	CodeNullSocketPointer:       "null_socket_pointer",
	CodeConnectionTestFailed:    "connection_test_failed",
	CodeSocketPointerExisted:    "socket_pointer_existed",
	CodeSocketPointerNotExisted: "socket_pointer_not_existed",
	CodePasswordAlreadySet:      "password_already_set",
	CodePasswordMismatched:      "password_mismatched",
	CodeUserNotExisted:          "user_not_existed",
	CodePrivateRoomNotExisted:   "private_room_not_existed",
	CodePrivateRoomUnableToUse:  "private_room_unable_to_use",
	CodePrivateRoomExisted:      "private_room_existed",
	CodeGroupRoomNotExisted:     "group_room_not_existed",
	CodeGroupRoomUnableToUse:    "group_room_unable_to_use",
	CodeInvalidVerification:     "invalid_verification",
	CodeVerificationExisted:     "verification_existed",
	CodeVerificationNotExisted:  "verification_not_existed",
	CodeNoPermission:            "no_permission",
	CodeTimedOut:                "timed_out",
}

// Kind returns the snake_case name of c, or "unknown" for an unmapped code.
func (c Code) Kind() string {
	if name, ok := kindNames[c]; ok {
		return name
	}
	return "unknown"
}

// Error is a taxonomy error. Two Errors with the same Code match under
// errors.Is regardless of detail text.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code.Kind(), e.Detail)
	}
	return e.Code.Kind()
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// E returns a new taxonomy error for code.
func E(code Code) error {
	return &Error{Code: code}
}

// Ef returns a new taxonomy error for code with formatted detail text.
func Ef(code Code, format string, args ...any) error {
	return &Error{Code: code, Detail: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the taxonomy code from err, or CodeOK if err is nil and
// -1 if err is not a taxonomy error.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return Code(-1)
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}
