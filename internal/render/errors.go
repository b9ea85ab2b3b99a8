package render

import (
	"errors"
	"fmt"
)

var (
	// ErrWaitTimeout means the wait selector never appeared in the page.
	ErrWaitTimeout = errors.New("render: wait selector not found before timeout")
	// ErrMissingURL is returned for a request without a target URL.
	ErrMissingURL = errors.New("render: url is required")
	// ErrInvalidWaitClass is a wait value that is not a single class name.
	ErrInvalidWaitClass = errors.New("render: invalid wait class")
	// ErrInvalidOptions is a print option the renderer cannot honour.
	ErrInvalidOptions = errors.New("render: unsupported print option")
)

// ProtocolError is a devtools command that the browser answered with an error.
type ProtocolError struct {
	Method  string
	Code    int64
	Message string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("render: %s failed (%d): %s", e.Method, e.Code, e.Message)
}

// IsProtocolError reports whether err carries a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}
