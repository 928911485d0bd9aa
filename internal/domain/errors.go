package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures. Only Validation and Permission are
// pre-send rejections; Policy also mutates enforcement state; NonCritical
// errors are logged and never reach the sender.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindPermission
	KindPolicy
	KindPersistence
	KindNonCritical
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPermission:
		return "permission"
	case KindPolicy:
		return "policy"
	case KindPersistence:
		return "persistence"
	case KindNonCritical:
		return "non_critical"
	default:
		return "internal"
	}
}

// Machine-readable acknowledgment codes.
const (
	CodeInvalidConversationID = "invalid_conversation_id"
	CodeInvalidSender         = "invalid_sender"
	CodeInvalidMessageID      = "invalid_message_id"
	CodeInvalidPayload        = "invalid_payload"
	CodeNotParticipant        = "not_participant"
	CodeUserRestricted        = "user_restricted"
	CodeContentViolation      = "content_violation"
	CodeMessageNotFound       = "message_not_found"
	CodeRateLimited           = "rate_limited"
	CodeSendFailed            = "send_failed"
	CodeInternal              = "internal_error"
)

type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func ValidationError(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func PermissionError(code, message string) *Error {
	return &Error{Kind: KindPermission, Code: code, Message: message}
}

func PolicyViolation(message string) *Error {
	return &Error{Kind: KindPolicy, Code: CodeContentViolation, Message: message}
}

func PersistenceError(err error) *Error {
	return &Error{Kind: KindPersistence, Code: CodeSendFailed, Message: "message could not be stored", Err: err}
}

func NonCriticalError(step string, err error) *Error {
	return &Error{Kind: KindNonCritical, Code: step, Message: step + " failed", Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the acknowledgment code for err, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}

func IsNonCritical(err error) bool {
	return KindOf(err) == KindNonCritical
}
