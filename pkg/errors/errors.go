package errors

import (
	stderrors "errors"
	"fmt"
)

// BotError is a bot error carrying a stable code, a user-facing message and context.
type BotError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Err     error       `json:"-"`
	Context interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *BotError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap lets errors.Is and errors.As reach the underlying error
func (e *BotError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a BotError with the same code.
// Copies made by WithError/WithContext still match their sentinel.
func (e *BotError) Is(target error) bool {
	t, ok := target.(*BotError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext returns a copy of the error carrying ctx
func (e *BotError) WithContext(ctx interface{}) *BotError {
	return &BotError{
		Code:    e.Code,
		Message: e.Message,
		Err:     e.Err,
		Context: ctx,
	}
}

// WithError returns a copy of the error wrapping err
func (e *BotError) WithError(err error) *BotError {
	return &BotError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
		Context: e.Context,
	}
}

// WithMessage returns a copy of the error with a different user-facing message
func (e *BotError) WithMessage(message string) *BotError {
	return &BotError{
		Code:    e.Code,
		Message: message,
		Err:     e.Err,
		Context: e.Context,
	}
}

// Predefined errors
var (
	// Validation errors. Always recovered by re-prompting in the same state.
	ErrInvalidDateFormat = &BotError{
		Code:    "INVALID_DATE_FORMAT",
		Message: "Date format is invalid. Please enter a valid date. Eg: 311225",
	}

	ErrDateInPast = &BotError{
		Code:    "DATE_IN_PAST",
		Message: "Cannot put a past date. Please enter a valid date. Eg: 311225",
	}

	ErrInvalidPeriod = &BotError{
		Code:    "INVALID_PERIOD",
		Message: "Please select a valid period.",
	}

	ErrPeriodOrder = &BotError{
		Code:    "PERIOD_ORDER",
		Message: "Ending period cannot be before the starting period. Please select a valid ending period.",
	}

	ErrInvalidLocation = &BotError{
		Code:    "INVALID_LOCATION",
		Message: "Please select a valid location.",
	}

	ErrEmptyText = &BotError{
		Code:    "EMPTY_TEXT",
		Message: "Please enter some text.",
	}

	ErrUnexpectedInput = &BotError{
		Code:    "UNEXPECTED_INPUT",
		Message: "Please use the buttons above to choose an option.",
	}

	// Booking errors
	ErrLocationBooked = &BotError{
		Code:    "LOCATION_BOOKED",
		Message: "location already booked for that time",
	}

	ErrUnknownSelection = &BotError{
		Code:    "UNKNOWN_SELECTION",
		Message: "Unknown option selected.",
	}

	ErrSessionNotFound = &BotError{
		Code:    "SESSION_NOT_FOUND",
		Message: "no active session",
	}

	// External system errors
	ErrAuthUnavailable = &BotError{
		Code:    "AUTH_UNAVAILABLE",
		Message: "calendar credential unavailable",
	}

	ErrCalendarRemote = &BotError{
		Code:    "CALENDAR_REMOTE",
		Message: "calendar request failed",
	}

	ErrLockUnavailable = &BotError{
		Code:    "LOCK_UNAVAILABLE",
		Message: "booking lock unavailable",
	}

	ErrTokenNotFound = &BotError{
		Code:    "TOKEN_NOT_FOUND",
		Message: "stored token not found",
	}

	ErrConfigurationInvalid = &BotError{
		Code:    "CONFIGURATION_INVALID",
		Message: "invalid configuration",
	}

	ErrTelegramAPI = &BotError{
		Code:    "TELEGRAM_API",
		Message: "Telegram API error",
	}
)

// NewBotError creates a new bot error
func NewBotError(code, message string) *BotError {
	return &BotError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps a plain error into a BotError
func Wrap(err error, code, message string) *BotError {
	return &BotError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Is is errors.Is from the standard library
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// IsBotError reports whether err is or wraps a BotError
func IsBotError(err error) bool {
	_, ok := GetBotError(err)
	return ok
}

// GetBotError extracts the outermost BotError from err
func GetBotError(err error) (*BotError, bool) {
	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr, true
	}
	return nil, false
}

// UserMessage returns the message to show the user for err, or fallback
// when err carries no BotError.
func UserMessage(err error, fallback string) string {
	if botErr, ok := GetBotError(err); ok && botErr.Message != "" {
		return botErr.Message
	}
	return fallback
}
