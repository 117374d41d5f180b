package services

import (
	"errors"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
)

// ErrorKind groups domain errors by how callers should react to them.
type ErrorKind int

const (
	KindValidation ErrorKind = iota + 1
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindStateConflict
	KindGone
	KindUnavailable
	KindTransaction
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindGone:
		return "gone"
	case KindUnavailable:
		return "unavailable"
	case KindTransaction:
		return "transaction_failure"
	}
	return "unknown"
}

// Error is the typed failure returned by every service operation. Message is
// safe to show to end users.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	// ItemIndex points at the failing batch item, when there is one.
	ItemIndex *int
	TeamID    string
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on Code so sentinels compare equal to copies carrying a
// different message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrValidation               = &Error{Kind: KindValidation, Code: "validation_error", Message: "invalid request"}
	ErrNegativePointsDisallowed = &Error{Kind: KindValidation, Code: "negative_points_disallowed", Message: "negative points are not allowed for this event"}

	ErrTokenNotFound    = &Error{Kind: KindUnauthorized, Code: "token_not_found", Message: "invalid or unknown token"}
	ErrInsufficientTier = &Error{Kind: KindForbidden, Code: "insufficient_tier", Message: "this token does not allow that operation"}
	ErrEventMismatch    = &Error{Kind: KindForbidden, Code: "event_mismatch", Message: "this token does not grant access to this event"}

	ErrEventNotFound  = &Error{Kind: KindNotFound, Code: "event_not_found", Message: "event not found"}
	ErrTeamNotInEvent = &Error{Kind: KindNotFound, Code: "team_not_in_event", Message: "team does not belong to this event"}
	ErrScoreNotFound  = &Error{Kind: KindNotFound, Code: "score_not_found", Message: "score not found"}

	ErrEventNotActive       = &Error{Kind: KindStateConflict, Code: "event_not_active", Message: "event is not active"}
	ErrAlreadyFinalized     = &Error{Kind: KindStateConflict, Code: "already_finalized", Message: "event is already finalized"}
	ErrTransitionNotAllowed = &Error{Kind: KindStateConflict, Code: "transition_not_allowed", Message: "status change not allowed"}
	ErrDayLocked            = &Error{Kind: KindStateConflict, Code: "day_locked", Message: "day is locked"}
	ErrDayLockConflict      = &Error{Kind: KindStateConflict, Code: "day_lock_conflict", Message: "day lock state does not allow that"}
	ErrTeamDisabled         = &Error{Kind: KindStateConflict, Code: "team_disabled", Message: "team is disabled"}
	ErrDuplicateTeamName    = &Error{Kind: KindStateConflict, Code: "duplicate_team_name", Message: "a team with that name already exists in this event"}
	ErrIdempotencyConflict  = &Error{Kind: KindStateConflict, Code: "idempotency_key_conflict", Message: "this idempotency key was already used for another team"}

	ErrEventExpired = &Error{Kind: KindGone, Code: "event_expired", Message: "event has ended and no longer accepts changes"}

	ErrAvatarStorageUnavailable = &Error{Kind: KindUnavailable, Code: "avatar_storage_unavailable", Message: "avatar uploads are not configured"}

	ErrTransactionFailed = &Error{Kind: KindTransaction, Code: "transaction_failed", Message: "the operation could not be completed; no changes were saved"}
)

// withMessage copies base with a more specific message.
func withMessage(base *Error, format string, args ...any) *Error {
	out := *base
	out.Message = fmt.Sprintf(format, args...)
	return &out
}

func validationError(format string, args ...any) *Error {
	return withMessage(ErrValidation, format, args...)
}

// forItem tags err with the batch position and team it refers to.
func forItem(err *Error, index int, teamID string) *Error {
	out := *err
	out.ItemIndex = &index
	out.TeamID = teamID
	return &out
}

func transactionFailed(cause error) *Error {
	out := *ErrTransactionFailed
	out.Cause = cause
	return &out
}

// KindOf returns the kind of a domain error, or KindTransaction for anything
// untyped.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransaction
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return fiber.StatusBadRequest
	case KindUnauthorized:
		return fiber.StatusUnauthorized
	case KindForbidden:
		return fiber.StatusForbidden
	case KindNotFound:
		return fiber.StatusNotFound
	case KindStateConflict:
		return fiber.StatusConflict
	case KindGone:
		return fiber.StatusGone
	case KindUnavailable:
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondError writes err as the JSON error envelope. Untyped errors never
// leak their text.
func RespondError(c *fiber.Ctx, err error) error {
	var e *Error
	if !errors.As(err, &e) {
		log.Printf("❌ [HTTP] %s %s failed: %v", c.Method(), c.Path(), err)
		e = transactionFailed(err)
	}
	body := fiber.Map{
		"error": e.Message,
		"code":  e.Code,
	}
	if e.ItemIndex != nil {
		body["item_index"] = *e.ItemIndex
	}
	if e.TeamID != "" {
		body["team_id"] = e.TeamID
	}
	return c.Status(HTTPStatus(e)).JSON(body)
}
