package rtmp

import (
	"crypto/cipher"
	"io"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/chunk"
	"github.com/streamcore/rtmp/handshake"
	"github.com/streamcore/rtmp/rand"
	"go.uber.org/zap"
)

// State is the lifecycle stage of a Conn. States only move forward.
type State int32

const (
	StateConnect State = iota
	StateHandshake
	StateConnected
	StateError
	StateDisconnecting
	StateDisconnected
)

var stateNames = [...]string{"connect", "handshake", "connected", "error", "disconnecting", "disconnected"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Handshaker is the handshake sub-phase of a connection's decode path. *handshake.Handshake implements it.
type Handshaker interface {
	Begin() ([]byte, error)
	Feed(p []byte) (int, []byte, handshake.Result, error)
	Ciphers() (in, out cipher.Stream)
}

// Handler receives every complete message, control messages included, after the connection has applied
// them. It runs on the decode path, so it may send but must not feed the same connection. An error
// matching IsFatal closes the connection; any other error drops the message only.
type Handler interface {
	HandleMessage(c *Conn, m *chunk.Message) error
}

type HandlerFunc func(c *Conn, m *chunk.Message) error

func (f HandlerFunc) HandleMessage(c *Conn, m *chunk.Message) error {
	return f(c, m)
}

// ConnectHandler is implemented by handlers that act as soon as the handshake completes.
type ConnectHandler interface {
	OnConnect(c *Conn) error
}

// CloseHandler is implemented by handlers that release resources when the connection ends. err is nil
// after a local Close.
type CloseHandler interface {
	OnClose(c *Conn, err error)
}

type ConnOption func(*Conn)

func WithLogger(logger *zap.Logger) ConnOption {
	return func(c *Conn) { c.logger = logger }
}

func WithHandler(h Handler) ConnOption {
	return func(c *Conn) { c.handler = h }
}

// WithCloser sets the transport closed when the connection ends.
func WithCloser(closer io.Closer) ConnOption {
	return func(c *Conn) { c.closer = closer }
}

// WithMaxMessageLength caps the declared length of inbound messages.
func WithMaxMessageLength(n uint32) ConnOption {
	return func(c *Conn) { c.decoder.SetMaxMessageLength(n) }
}

// Conn multiplexes messages over one RTMP byte stream. Inbound bytes are pushed with Feed, which runs the
// handshake and then reassembles chunks into messages for the Handler. Outbound messages go through
// SendMessage. At most one Feed and one send run at a time; both check the state before and after
// taking their lock, so Close or a failure from any goroutine stops them.
type Conn struct {
	id      string
	logger  *zap.Logger
	state   atomic.Int32
	handler Handler
	closer  io.Closer

	errMu sync.Mutex
	err   error

	// decode path
	decodeMu      sync.Mutex
	handshaker    Handshaker
	decoder       *chunk.Decoder
	cipherIn      cipher.Stream
	pending       []byte
	acked         uint64
	ackWindow     uint32
	peerBandwidth uint32
	peerLimit     chunk.LimitType
	hasPeerLimit  bool

	// encode path
	encodeMu  sync.Mutex
	w         WriteFlusher
	encoder   *chunk.Encoder
	cipherOut cipher.Stream
	scratch   []byte

	received  atomic.Uint64
	sent      atomic.Uint64
	peerAcked atomic.Uint32
}

// largest scratch buffer kept between sends
const maxScratch = 1 << 20

func NewConn(w WriteFlusher, hs Handshaker, opts ...ConnOption) *Conn {
	c := &Conn{
		id:         rand.NewConnID(),
		logger:     zap.NewNop(),
		handshaker: hs,
		decoder:    chunk.NewDecoder(),
		w:          w,
		encoder:    chunk.NewEncoder(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("conn", c.id))
	return c
}

func (c *Conn) ID() string         { return c.id }
func (c *Conn) Logger() *zap.Logger { return c.logger }

func (c *Conn) State() State {
	return State(c.state.Load())
}

// Err returns the error that failed the connection, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// BytesReceived counts every byte passed to Feed, handshake included.
func (c *Conn) BytesReceived() uint64 { return c.received.Load() }

// BytesSent counts every byte written, handshake included.
func (c *Conn) BytesSent() uint64 { return c.sent.Load() }

// PeerAcknowledged returns the sequence number of the last Acknowledgement from the peer.
func (c *Conn) PeerAcknowledged() uint32 { return c.peerAcked.Load() }

func (c *Conn) accepting() bool {
	return c.State() < StateError
}

// Start begins the handshake. A client sends C0+C1 here; a server waits for the peer.
func (c *Conn) Start() error {
	// Feed must not see the handshake state before Begin ran
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()
	if !c.state.CompareAndSwap(int32(StateConnect), int32(StateHandshake)) {
		if !c.accepting() {
			return ErrClosed
		}
		return ErrAlreadyStarted
	}

	out, err := c.handshaker.Begin()
	if err != nil {
		return c.fail(errors.WithMessage(err, "begin handshake"))
	}
	if len(out) > 0 {
		if err := c.writeRaw(out); err != nil {
			return err
		}
	}
	c.logger.Debug("[conn] handshake started")
	// bytes fed before Start
	if err := c.drain(); err != nil {
		return err
	}
	return nil
}

// Feed pushes bytes received from the transport. It returns once every complete chunk in the buffered
// input has been processed; incomplete input stays buffered for the next call. An error means the
// connection is no longer usable.
func (c *Conn) Feed(p []byte) error {
	if !c.accepting() {
		return ErrClosed
	}
	c.decodeMu.Lock()
	defer c.decodeMu.Unlock()
	if !c.accepting() {
		c.releaseDecoder()
		return ErrClosed
	}

	c.received.Add(uint64(len(p)))
	start := len(c.pending)
	c.pending = append(c.pending, p...)
	if c.cipherIn != nil {
		c.cipherIn.XORKeyStream(c.pending[start:], c.pending[start:])
	}
	if c.State() == StateConnect {
		return nil
	}

	err := c.drain()
	if err == nil {
		err = c.acknowledge()
	}
	if !c.accepting() {
		c.releaseDecoder()
	}
	return err
}

// drain runs the buffered input through the handshake or the chunk decoder. Caller holds decodeMu.
func (c *Conn) drain() error {
	defer c.compact()
	for len(c.pending) > 0 {
		switch c.State() {
		case StateHandshake:
			n, out, res, err := c.handshaker.Feed(c.pending)
			c.pending = c.pending[n:]
			if len(out) > 0 {
				if err := c.writeRaw(out); err != nil {
					return err
				}
			}
			switch res {
			case handshake.Failed:
				return c.fail(err)
			case handshake.Done:
				if err := c.established(); err != nil {
					return err
				}
			default:
				if n == 0 {
					return nil
				}
			}

		case StateConnected:
			n, _, msg, err := c.decoder.DecodeChunk(c.pending)
			if err != nil {
				return c.fail(err)
			}
			if n == 0 {
				return nil
			}
			c.pending = c.pending[n:]
			if msg != nil {
				if err := c.dispatch(msg); err != nil {
					return err
				}
			}

		default:
			// failed or closed from another goroutine; the rest of the input is dropped
			c.pending = nil
			return ErrClosed
		}
	}
	return nil
}

// compact moves unconsumed input to the front of the buffer.
func (c *Conn) compact() {
	if len(c.pending) == 0 {
		c.pending = c.pending[:0]
		return
	}
	if cap(c.pending)-len(c.pending) < len(c.pending) {
		c.pending = append(make([]byte, 0, 2*len(c.pending)), c.pending...)
	}
}

// established installs the RTMPE ciphers, if any, and enters the connected state.
func (c *Conn) established() error {
	in, out := c.handshaker.Ciphers()
	if in != nil {
		c.cipherIn = in
		// input after the handshake arrived encrypted
		in.XORKeyStream(c.pending, c.pending)
		c.encodeMu.Lock()
		c.cipherOut = out
		c.encodeMu.Unlock()
	}
	c.handshaker = nil
	if !c.state.CompareAndSwap(int32(StateHandshake), int32(StateConnected)) {
		return ErrClosed
	}
	c.logger.Info("[conn] handshake completed", zap.Bool("encrypted", in != nil))
	if h, ok := c.handler.(ConnectHandler); ok {
		if err := h.OnConnect(c); err != nil {
			return c.handlerError(err, nil)
		}
	}
	return nil
}

func (c *Conn) dispatch(m *chunk.Message) error {
	if ce := c.logger.Check(zap.DebugLevel, "[conn] message received"); ce != nil {
		ce.Write(zap.Uint32("channel", m.ChannelID), zap.Uint8("type", m.TypeID),
			zap.Uint32("stream", m.StreamID), zap.Int("length", len(m.Payload)))
	}
	if err := c.applyControl(m); err != nil {
		return c.fail(err)
	}
	if c.handler == nil {
		return nil
	}
	if err := c.handler.HandleMessage(c, m); err != nil {
		return c.handlerError(err, m)
	}
	return nil
}

func (c *Conn) handlerError(err error, m *chunk.Message) error {
	if IsFatal(err) {
		return c.fail(err)
	}
	fields := []zap.Field{zap.Error(err)}
	if m != nil {
		fields = append(fields, zap.Uint32("channel", m.ChannelID), zap.Uint8("type", m.TypeID))
	}
	c.logger.Warn("[conn] message dropped", fields...)
	return nil
}

// applyControl applies protocol control messages to the codec state and answers pings.
func (c *Conn) applyControl(m *chunk.Message) error {
	if m.TypeID == chunk.TypeUserControl {
		ev, err := chunk.ParseUserControl(m.Payload)
		if err != nil {
			return err
		}
		if ev.Event == chunk.EventPingRequest {
			pong := chunk.NewUserControl(chunk.UserControl{Event: chunk.EventPingResponse, Timestamp: ev.Timestamp})
			if err := c.SendMessage(pong); err != nil && IsFatal(err) {
				return err
			}
		}
		return nil
	}
	if !chunk.IsControl(m.TypeID) {
		return nil
	}

	ctl, err := chunk.ParseControl(m)
	if err != nil {
		return err
	}
	switch ctl.Type {
	case chunk.TypeSetChunkSize:
		if err := c.decoder.SetChunkSize(ctl.Value); err != nil {
			return err
		}
		c.logger.Debug("[conn] peer chunk size changed", zap.Uint32("size", ctl.Value))
	case chunk.TypeAbort:
		c.decoder.Abort(ctl.Value)
	case chunk.TypeAck:
		c.peerAcked.Store(ctl.Value)
	case chunk.TypeWindowAckSize:
		c.ackWindow = ctl.Value
	case chunk.TypeSetPeerBandwidth:
		return c.setPeerBandwidth(ctl.Value, ctl.Limit)
	}
	return nil
}

// setPeerBandwidth applies a Set Peer Bandwidth limit and answers with Window Acknowledgement Size when
// the window changed.
func (c *Conn) setPeerBandwidth(size uint32, limit chunk.LimitType) error {
	prev := c.peerBandwidth
	switch limit {
	case chunk.LimitHard:
		c.peerBandwidth = size
	case chunk.LimitSoft:
		if prev == 0 || size < prev {
			c.peerBandwidth = size
		}
	case chunk.LimitDynamic:
		if !c.hasPeerLimit || c.peerLimit != chunk.LimitHard {
			return nil
		}
		c.peerBandwidth = size
		limit = chunk.LimitHard
	default:
		return errors.Wrapf(ErrProtocolViolation, "set peer bandwidth limit type %d", limit)
	}
	c.peerLimit, c.hasPeerLimit = limit, true
	if c.peerBandwidth == prev {
		return nil
	}
	if err := c.SendMessage(chunk.NewWindowAckSize(c.peerBandwidth)); err != nil && IsFatal(err) {
		return err
	}
	return nil
}

// acknowledge sends an Acknowledgement once a full window has arrived since the last one.
func (c *Conn) acknowledge() error {
	if c.ackWindow == 0 || c.State() != StateConnected {
		return nil
	}
	received := c.received.Load()
	if received-c.acked < uint64(c.ackWindow) {
		return nil
	}
	c.acked = received
	// the sequence number wraps at 32 bits
	if err := c.SendMessage(chunk.NewAck(uint32(received))); err != nil && IsFatal(err) {
		return err
	}
	return nil
}

// SendMessage encodes m into chunks and writes them. Messages from concurrent callers never interleave
// on the wire. Encode errors leave the connection usable.
func (c *Conn) SendMessage(m *chunk.Message) error {
	return c.SendMessages(m)
}

// SendMessages writes ms back to back under one acquisition of the encode lock and flushes once.
func (c *Conn) SendMessages(ms ...*chunk.Message) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()
	if c.State() != StateConnected {
		c.releaseEncoder()
		return ErrNotConnected
	}

	// reject the whole batch before any header is cached, or the peer would miss headers later deltas build on
	for _, m := range ms {
		if err := c.encoder.Check(m); err != nil {
			return errors.WithMessage(err, "send message")
		}
	}
	buf := c.scratch[:0]
	for _, m := range ms {
		var err error
		if buf, err = c.encoder.Encode(buf, m); err != nil {
			return errors.WithMessage(err, "send message")
		}
	}
	err := c.flush(buf)
	if cap(buf) <= maxScratch {
		c.scratch = buf[:0]
	}
	return err
}

// SetChunkSize announces size to the peer and uses it for every later message.
func (c *Conn) SetChunkSize(size uint32) error {
	if size == 0 || size > chunk.MaxChunkSize {
		return errors.Wrapf(chunk.ErrInvalidMessage, "chunk size %d out of range", size)
	}
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()
	if c.State() != StateConnected {
		return ErrNotConnected
	}
	buf, err := c.encoder.Encode(c.scratch[:0], chunk.NewSetChunkSize(size))
	if err != nil {
		return err
	}
	if err := c.flush(buf); err != nil {
		return err
	}
	c.logger.Debug("[conn] chunk size changed", zap.Uint32("size", size))
	return c.encoder.SetChunkSize(size)
}

// ChunkSize returns the outbound chunk size.
func (c *Conn) ChunkSize() uint32 {
	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()
	if c.encoder == nil {
		return 0
	}
	return c.encoder.ChunkSize()
}

// flush encrypts buf when RTMPE is on and writes it. Caller holds encodeMu.
func (c *Conn) flush(buf []byte) error {
	if c.cipherOut != nil {
		c.cipherOut.XORKeyStream(buf, buf)
	}
	return c.writeLocked(buf)
}

// writeRaw writes handshake bytes, which are never encrypted.
func (c *Conn) writeRaw(b []byte) error {
	c.encodeMu.Lock()
	defer c.encodeMu.Unlock()
	return c.writeLocked(b)
}

func (c *Conn) writeLocked(b []byte) error {
	n, err := c.w.Write(b)
	c.sent.Add(uint64(n))
	if err == nil {
		err = c.w.Flush()
	}
	if err != nil {
		return c.fail(errors.Wrap(ErrClosed, err.Error()))
	}
	return nil
}

// Close ends the connection. Pending input is discarded and the transport is closed.
func (c *Conn) Close() error {
	for {
		s := c.State()
		if s >= StateError {
			return nil
		}
		if c.state.CompareAndSwap(int32(s), int32(StateDisconnecting)) {
			break
		}
	}
	c.logger.Info("[conn] closing")
	return c.finish()
}

// fail moves the connection to the error state and closes it. It returns err for convenience.
func (c *Conn) fail(err error) error {
	for {
		s := c.State()
		if s >= StateError {
			return err
		}
		if c.state.CompareAndSwap(int32(s), int32(StateError)) {
			break
		}
	}
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	c.logger.Error("[conn] connection failed", zap.Error(err))
	c.finish()
	return err
}

// finish closes the transport and releases the codec state that is not in use. Whatever is still held
// by a running Feed or send is released when that call notices the state change.
func (c *Conn) finish() error {
	var err error
	if c.closer != nil {
		err = c.closer.Close()
	}
	if c.decodeMu.TryLock() {
		c.releaseDecoder()
		c.decodeMu.Unlock()
	}
	if c.encodeMu.TryLock() {
		c.releaseEncoder()
		c.encodeMu.Unlock()
	}
	c.state.Store(int32(StateDisconnected))
	if h, ok := c.handler.(CloseHandler); ok {
		h.OnClose(c, c.Err())
	}
	return err
}

func (c *Conn) releaseDecoder() {
	c.pending = nil
	c.handshaker = nil
	c.cipherIn = nil
	if c.decoder != nil {
		c.decoder = chunk.NewDecoder()
	}
}

func (c *Conn) releaseEncoder() {
	c.scratch = nil
	c.cipherOut = nil
	if c.encoder != nil {
		c.encoder = chunk.NewEncoder()
	}
}
