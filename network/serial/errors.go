package serial

import "github.com/gear6io/replicant/pkg/errors"

// Serialiser error codes
var (
	ErrHandlerNotFound    = errors.MustNewCode("serial.handler_not_found")
	ErrInsufficientData   = errors.MustNewCode("serial.insufficient_data")
	ErrValueOutOfRange    = errors.MustNewCode("serial.value_out_of_range")
	ErrInvalidValue       = errors.MustNewCode("serial.invalid_value")
	ErrInvalidCompression = errors.MustNewCode("serial.invalid_compression")
	ErrInvalidOption      = errors.MustNewCode("serial.invalid_option")
)

func insufficient(what string, need, have int) *errors.Error {
	return errors.Newf(ErrInsufficientData, "insufficient data for %s: need %d bytes, have %d", what, need, have)
}
