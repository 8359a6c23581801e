package certificate

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("invalid certificate request")
	ErrRegisterExhausted = errors.New("serial register exhausted")
	ErrRegisterIO        = errors.New("serial register unavailable")
	ErrRender            = errors.New("certificate render failed")
	ErrPersistence       = errors.New("certificate persistence failed")
)

// Error is an issuance failure of one Kind. Serial is set when the failure
// happened after a serial had already been consumed.
type Error struct {
	Kind   error
	Op     string
	Serial string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Serial != "" {
		msg += fmt.Sprintf(" (serial %s)", e.Serial)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return e != nil && target == e.Kind
}

func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithSerial returns a copy of the error annotated with a consumed serial.
func (e *Error) WithSerial(serial string) *Error {
	out := *e
	out.Serial = serial
	return &out
}

// Kind reports the taxonomy kind of err, or nil when err is not an issuance error.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrRegisterExhausted, ErrRegisterIO, ErrRender, ErrPersistence} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// KindCode is a stable machine-readable label for err's kind.
func KindCode(err error) string {
	switch Kind(err) {
	case ErrValidation:
		return "validation_error"
	case ErrRegisterExhausted:
		return "register_exhausted"
	case ErrRegisterIO:
		return "register_io_error"
	case ErrRender:
		return "render_error"
	case ErrPersistence:
		return "persistence_error"
	default:
		return "internal_error"
	}
}

// OrphanedSerial returns the serial consumed by a failed issuance, if any.
func OrphanedSerial(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Serial
	}
	return ""
}
