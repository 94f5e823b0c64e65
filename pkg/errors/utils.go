package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// IsCoded reports whether err is, or wraps, a coded *Error
func IsCoded(err error) bool {
	var coded *Error
	return stderrors.As(err, &coded)
}

// HasCode reports whether any *Error in err's chain carries code
func HasCode(err error, code Code) bool {
	for err != nil {
		if coded, ok := err.(*Error); ok && coded.Code.Equals(code) {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// GetContext returns the context map of the outermost coded error
func GetContext(err error) map[string]string {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Context
	}
	return nil
}

// GetCode returns the code string of the outermost coded error, or ""
func GetCode(err error) string {
	var coded *Error
	if stderrors.As(err, &coded) {
		return coded.Code.String()
	}
	return ""
}

// FormatError renders err with its code, context and cause for logs
func FormatError(err error) string {
	coded, ok := err.(*Error)
	if !ok {
		return err.Error()
	}

	parts := []string{
		fmt.Sprintf("Code: %s", coded.Code),
		fmt.Sprintf("Message: %s", coded.Message),
	}

	if len(coded.Context) > 0 {
		keys := make([]string, 0, len(coded.Context))
		for k := range coded.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		parts = append(parts, "Context:")
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("  %s: %v", k, coded.Context[k]))
		}
	}

	if coded.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause: %v", coded.Cause))
	}

	return strings.Join(parts, "\n")
}

// AsError converts any error to *Error.
// InternalError types are transformed, *Error is returned as-is and
// anything else is wrapped as common.internal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}

	if ie, ok := err.(InternalError); ok {
		return ie.Transform()
	}

	if coded, ok := err.(*Error); ok {
		return coded
	}

	return New(CommonInternal, err.Error(), err)
}

// FromWire rebuilds an error received from a peer. Unknown or malformed
// codes fall back to fallback so the message is never lost.
func FromWire(code, message string, fallback Code) *Error {
	parsed, err := NewCode(code)
	if err != nil {
		return New(fallback, message, nil).AddContext("remote_code", code)
	}
	return New(parsed, message, nil)
}
