package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies where an error originated in the monitor pipeline.
type Kind string

const (
	// KindTransport covers connection drops, dial failures and heartbeat loss.
	KindTransport Kind = "transport"
	// KindDecode covers a single payload that matched no known shape.
	KindDecode Kind = "decode"
	// KindData covers a decoded event that is semantically unusable.
	KindData Kind = "data"
	// KindAPI covers errors returned to HTTP callers.
	KindAPI Kind = "api"
)

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new API error
func New(code int, message string, err error) *Error {
	return &Error{
		Kind:    KindAPI,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Transport wraps a connection-level failure.
func Transport(message string, err error) *Error {
	return &Error{Kind: KindTransport, Code: http.StatusServiceUnavailable, Message: message, Err: err}
}

// Decode wraps a payload that could not be turned into an event.
func Decode(topic string, err error) *Error {
	return &Error{Kind: KindDecode, Code: http.StatusUnprocessableEntity, Message: "undecodable payload on " + topic, Err: err}
}

// Data reports an event the engine refused to apply.
func Data(message string) *Error {
	return &Error{Kind: KindData, Code: http.StatusBadRequest, Message: message}
}

// IsKind reports whether err, or anything it wraps, is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Kind == k
	}
	return false
}

var ErrInternalServer = New(http.StatusInternalServerError, "Internal server error", nil)

// Engine and pipeline error types
var (
	ErrInvalidOrderID  = Data("order id must be positive")
	ErrInvalidCustomer = Data("customer is not valid for display")
	ErrUnknownAction   = Data("unknown voucher action")
	ErrUnknownTopic    = Decode("unknown topic", nil)
)

// ErrorMiddleware renders the last gin error as JSON.
func ErrorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			var appErr *Error
			if !stderrors.As(err, &appErr) {
				appErr = New(http.StatusInternalServerError, ErrInternalServer.Message, err)
			}

			c.JSON(appErr.Code, appErr)
			c.Abort()
		}
	}
}
