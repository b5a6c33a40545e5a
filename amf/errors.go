package amf

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrDecode marks malformed AMF input. It is recoverable at message granularity.
	ErrDecode = errors.New("amf: decode error")
	// ErrEncode marks a value that cannot be serialized.
	ErrEncode = errors.New("amf: encode error")
	// ErrClassNotAllowed is returned when the class policy rejects a typed object. It also matches ErrDecode.
	ErrClassNotAllowed = errors.New("amf: class not allowed")
	// ErrUnsupportedVersion is returned for versions other than 0 and 3.
	ErrUnsupportedVersion = errors.New("amf: unsupported version")
)

// DecodeErrorf builds an ErrDecode annotated with the byte offset where decoding stopped.
func DecodeErrorf(offset int, format string, args ...interface{}) error {
	return errors.Wrapf(ErrDecode, "offset %d: %s", offset, fmt.Sprintf(format, args...))
}

// EncodeErrorf builds an ErrEncode with context.
func EncodeErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrEncode, format, args...)
}

type classError struct {
	class  string
	offset int
}

func (e *classError) Error() string {
	return fmt.Sprintf("amf: decode error: offset %d: class %q not allowed", e.offset, e.class)
}

func (e *classError) Is(target error) bool {
	return target == ErrClassNotAllowed || target == ErrDecode
}

// ClassRejected returns the error reported when policy refuses class at offset.
func ClassRejected(class string, offset int) error {
	return errors.WithStack(&classError{class: class, offset: offset})
}
