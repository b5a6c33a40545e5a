package rtmp

import (
	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/chunk"
	"github.com/streamcore/rtmp/handshake"
)

var (
	ErrNilWriter = errors.New("rtmp: expected *bufio.Writer to be non-nil, but got a nil value")
	ErrNilReader = errors.New("rtmp: expected *bufio.Reader to be non-nil, but got a nil value")

	// ErrNotConnected is returned by sends attempted outside the connected state.
	ErrNotConnected = errors.New("rtmp: connection is not established")
	// ErrClosed is returned once a connection has failed or been closed.
	ErrClosed = errors.New("rtmp: connection closed")
	// ErrAlreadyStarted is returned by a second call to Conn.Start.
	ErrAlreadyStarted = errors.New("rtmp: connection already started")
)

// The error taxonomy of the protocol engine. Handshake failures and protocol violations end the
// connection; decode errors drop the offending message; encode errors are reported to the sender only.
var (
	ErrHandshakeFailure  = handshake.ErrHandshakeFailure
	ErrProtocolViolation = chunk.ErrProtocolViolation
	ErrDecode            = amf.ErrDecode
	ErrEncode            = amf.ErrEncode
)

// IsFatal reports whether err leaves the byte stream in an unknown position, so the connection must be
// closed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrHandshakeFailure) || errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrClosed)
}
