// Package rtmp runs the RTMP protocol over a byte stream: Conn drives the handshake and the chunk stream
// of one connection, Session answers the NetConnection and NetStream commands of a publishing or playing
// peer, and Server and Client put both on top of TCP or TLS sockets.
package rtmp

import "github.com/streamcore/rtmp/chunk"

// Chunk stream ids used for outbound messages.
const (
	ControlChannel = chunk.ControlChannel
	CommandChannel uint32 = 3
	// StreamChannel carries commands and data messages scoped to a message stream.
	StreamChannel uint32 = 5
	AudioChannel  uint32 = 6
	VideoChannel  uint32 = 7
)

// DefaultStreamID is the first message stream id handed out by createStream.
const DefaultStreamID uint32 = 1
