package apierr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/yungbote/certsig-backend/internal/domain/certificate"
)

// GenerationFailedMessage is the only detail a client sees for a failed
// issuance that was not its own fault.
const GenerationFailedMessage = "An error occurred during certificate generation."

type Error struct {
	Status int
	Code   string
	// Message is safe to show to clients. Err carries the internal cause.
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{Status: status, Code: code, Message: msg, Err: err}
}

// FromIssuance maps an issuance failure onto a client response. Only
// validation failures echo their cause; everything else is a generic 500 with
// the failure kind as its code.
func FromIssuance(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	code := certificate.KindCode(err)
	if errors.Is(err, certificate.ErrValidation) {
		msg := err.Error()
		var ce *certificate.Error
		if errors.As(err, &ce) && ce.Err != nil {
			msg = ce.Err.Error()
		}
		return &Error{Status: http.StatusBadRequest, Code: code, Message: msg, Err: err}
	}
	return &Error{Status: http.StatusInternalServerError, Code: code, Message: GenerationFailedMessage, Err: err}
}
