package rtmp

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/chunk"
	"github.com/streamcore/rtmp/config"
	"github.com/streamcore/rtmp/handshake"
	"go.uber.org/zap"
)

var (
	ErrInvalidScheme = errors.New("rtmp: invalid scheme in URL")
	ErrInvalidPath   = errors.New("rtmp: URL path needs an app and a stream key")
	// ErrRejected is returned when the server answers a request with _error or an error status.
	ErrRejected = errors.New("rtmp: request rejected")
)

const flashVersion = "LNX 9,0,124,2"

type (
	AudioCallback    func(payload []byte, timestamp uint32)
	VideoCallback    func(payload []byte, timestamp uint32)
	MetadataCallback func(metadata amf.Value)
)

type ClientOption func(*Client)

func WithClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

func OnAudio(f AudioCallback) ClientOption {
	return func(c *Client) { c.onAudio = f }
}

func OnVideo(f VideoCallback) ClientOption {
	return func(c *Client) { c.onVideo = f }
}

func OnMetadata(f MetadataCallback) ClientOption {
	return func(c *Client) { c.onMetadata = f }
}

// WithTLSConfig sets the TLS configuration of rtmps connections.
func WithTLSConfig(cfg *tls.Config) ClientOption {
	return func(c *Client) { c.tlsConfig = cfg }
}

// Client is a connection to an RTMP server that plays or publishes one stream. Callbacks run on the
// client's read goroutine.
type Client struct {
	logger    *zap.Logger
	tlsConfig *tls.Config
	target    target
	conn      *Conn

	onAudio    AudioCallback
	onVideo    VideoCallback
	onMetadata MetadataCallback

	mu       sync.Mutex
	tid      float64
	pending  map[float64]chan *Command
	status   chan *Command
	streamID atomic.Uint32

	connected chan struct{}
	done      chan struct{}
}

type target struct {
	scheme    string
	host      string
	app       string
	streamKey string
	tcURL     string
}

// parseURL splits scheme://host[:port]/app[/inst]/streamKey. The last path element is the stream key.
func parseURL(raw string) (target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return target{}, errors.Wrap(err, "rtmp: parse URL")
	}
	t := target{scheme: strings.ToLower(u.Scheme), host: u.Host}
	port := config.DefaultPort
	switch t.scheme {
	case "rtmp", "rtmpe":
	case "rtmps":
		port = "443"
	default:
		return target{}, errors.Wrap(ErrInvalidScheme, u.Scheme)
	}
	if u.Port() == "" {
		t.host = net.JoinHostPort(u.Hostname(), port)
	}

	path := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(path) < 2 || path[0] == "" || path[len(path)-1] == "" {
		return target{}, errors.Wrap(ErrInvalidPath, u.Path)
	}
	t.app = strings.Join(path[:len(path)-1], "/")
	t.streamKey = path[len(path)-1]
	if u.RawQuery != "" {
		t.streamKey += "?" + u.RawQuery
	}
	t.tcURL = t.scheme + "://" + t.host + "/" + t.app
	return t, nil
}

// Dial connects to the server named by rawURL, completes the handshake and the connect command. rtmpe
// URLs use an encrypted handshake and rtmps URLs run over TLS.
func Dial(ctx context.Context, rawURL string, opts ...ClientOption) (*Client, error) {
	t, err := parseURL(rawURL)
	if err != nil {
		return nil, err
	}
	cl := &Client{
		logger:    zap.NewNop(),
		target:    t,
		pending:   make(map[float64]chan *Command),
		status:    make(chan *Command, 16),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(cl)
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", t.host)
	if err != nil {
		return nil, errors.Wrapf(err, "rtmp: dial %s", t.host)
	}
	if t.scheme == "rtmps" {
		cfg := cl.tlsConfig
		if cfg == nil {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName, _, _ = net.SplitHostPort(t.host)
		}
		tc := tls.Client(nc, cfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			nc.Close()
			return nil, errors.Wrap(err, "rtmp: TLS handshake")
		}
		nc = tc
	}

	hsOpt := handshake.WithDigest()
	if t.scheme == "rtmpe" {
		hsOpt = handshake.WithEncryption()
	}
	r, _ := NewReader(bufio.NewReaderSize(nc, config.BufioSize))
	w, _ := NewWriter(bufio.NewWriterSize(nc, config.BufioSize))
	cl.conn = NewConn(w, handshake.New(handshake.RoleClient, hsOpt),
		WithLogger(cl.logger.With(zap.String("remote", t.host))),
		WithHandler((*clientHandler)(cl)),
		WithCloser(nc),
	)

	go func() {
		defer close(cl.done)
		if err := readLoop(r, cl.conn); err != nil {
			cl.logger.Debug("[client] connection ended", zap.Error(err))
		}
	}()
	if err := cl.conn.Start(); err != nil {
		cl.conn.Close()
		return nil, err
	}
	if err := cl.wait(ctx, cl.connected); err != nil {
		cl.conn.Close()
		return nil, err
	}
	if err := cl.connect(ctx); err != nil {
		cl.conn.Close()
		return nil, err
	}
	return cl, nil
}

func (cl *Client) Conn() *Conn { return cl.conn }

// StreamKey is the stream the client plays or publishes.
func (cl *Client) StreamKey() string { return cl.target.streamKey }

func (cl *Client) connect(ctx context.Context) error {
	if err := cl.conn.SetChunkSize(config.DefaultChunkSize); err != nil {
		return err
	}
	obj := amf.NewObject(
		amf.Property{Name: "app", Value: amf.String(cl.target.app)},
		amf.Property{Name: "flashVer", Value: amf.String(flashVersion)},
		amf.Property{Name: "tcUrl", Value: amf.String(cl.target.tcURL)},
		amf.Property{Name: "fpad", Value: amf.Boolean(false)},
		amf.Property{Name: "capabilities", Value: amf.Number(15)},
		amf.Property{Name: "audioCodecs", Value: amf.Number(4071)},
		amf.Property{Name: "videoCodecs", Value: amf.Number(252)},
		amf.Property{Name: "videoFunction", Value: amf.Number(1)},
		amf.Property{Name: "objectEncoding", Value: amf.Number(0)},
	)
	_, err := cl.call(ctx, 0, CommandConnect, obj)
	return err
}

// Play starts receiving the stream through the callbacks.
func (cl *Client) Play(ctx context.Context) error {
	id, err := cl.createStream(ctx)
	if err != nil {
		return err
	}
	if err := cl.send(id, CommandPlay, amf.String(cl.target.streamKey)); err != nil {
		return err
	}
	buffer := chunk.NewUserControl(chunk.UserControl{Event: chunk.EventSetBufferLength, StreamID: id, BufferLength: 3000})
	if err := cl.conn.SendMessage(buffer); err != nil {
		return err
	}
	return cl.waitStatus(ctx, NetStreamPlayStart)
}

// Publish announces the stream; media is then sent with WriteAudio, WriteVideo and WriteMetadata.
func (cl *Client) Publish(ctx context.Context) error {
	key := amf.String(cl.target.streamKey)
	if err := cl.send(0, CommandReleaseStream, key); err != nil {
		return err
	}
	if err := cl.send(0, CommandFCPublish, key); err != nil {
		return err
	}
	id, err := cl.createStream(ctx)
	if err != nil {
		return err
	}
	if err := cl.send(id, CommandPublish, key, amf.String("live")); err != nil {
		return err
	}
	return cl.waitStatus(ctx, NetStreamPublishStart)
}

func (cl *Client) createStream(ctx context.Context) (uint32, error) {
	res, err := cl.call(ctx, 0, CommandCreateStream, amf.Null{})
	if err != nil {
		return 0, err
	}
	id, ok := res.NumberArg(0)
	if !ok {
		return 0, amf.DecodeErrorf(0, "createStream result has no stream id")
	}
	cl.streamID.Store(uint32(id))
	return uint32(id), nil
}

// Call invokes a server method and returns its result. A failed call returns an error matching
// ErrRejected.
func (cl *Client) Call(ctx context.Context, name string, args ...amf.Value) (amf.Value, error) {
	res, err := cl.call(ctx, 0, name, amf.Null{}, args...)
	if err != nil {
		return nil, err
	}
	v, ok := res.Arg(0)
	if !ok {
		return amf.Undefined{}, nil
	}
	return v, nil
}

func (cl *Client) WriteAudio(payload []byte, timestamp uint32) error {
	return cl.conn.SendMessage(&chunk.Message{ChannelID: AudioChannel, TypeID: chunk.TypeAudio,
		StreamID: cl.streamID.Load(), Timestamp: timestamp, Payload: payload})
}

func (cl *Client) WriteVideo(payload []byte, timestamp uint32) error {
	return cl.conn.SendMessage(&chunk.Message{ChannelID: VideoChannel, TypeID: chunk.TypeVideo,
		StreamID: cl.streamID.Load(), Timestamp: timestamp, Payload: payload})
}

// WriteMetadata sends stream metadata as @setDataFrame.
func (cl *Client) WriteMetadata(metadata amf.Value) error {
	m, err := NewData(StreamChannel, cl.streamID.Load(), 0, amf.Version0, DataSetDataFrame, amf.String(DataOnMetaData), metadata)
	if err != nil {
		return err
	}
	return cl.conn.SendMessage(m)
}

// Close deletes the stream, if any, and closes the connection.
func (cl *Client) Close() error {
	if id := cl.streamID.Load(); id != 0 {
		if err := cl.send(0, CommandDeleteStream, amf.Number(id)); err != nil {
			cl.logger.Debug("[client] deleteStream failed", zap.Error(err))
		}
	}
	err := cl.conn.Close()
	<-cl.done
	return err
}

// send issues a command that gets no _result.
func (cl *Client) send(streamID uint32, name string, args ...amf.Value) error {
	m, err := NewCommand(CommandChannel, streamID, amf.Version0, &Command{Name: name, Object: amf.Null{}, Args: args})
	if err != nil {
		return err
	}
	return cl.conn.SendMessage(m)
}

// call issues a command and waits for its _result or _error.
func (cl *Client) call(ctx context.Context, streamID uint32, name string, object amf.Value, args ...amf.Value) (*Command, error) {
	ch := make(chan *Command, 1)
	cl.mu.Lock()
	cl.tid++
	tid := cl.tid
	cl.pending[tid] = ch
	cl.mu.Unlock()
	defer func() {
		cl.mu.Lock()
		delete(cl.pending, tid)
		cl.mu.Unlock()
	}()

	m, err := NewCommand(CommandChannel, streamID, amf.Version0, &Command{Name: name, TransactionID: tid, Object: object, Args: args})
	if err != nil {
		return nil, err
	}
	if err := cl.conn.SendMessage(m); err != nil {
		return nil, err
	}
	var res *Command
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-cl.done:
		// an answer may have been handled just before the connection ended
		select {
		case res = <-ch:
		default:
			return nil, cl.closedErr()
		}
	}
	if res.Name == CommandError {
		return nil, errors.Wrapf(ErrRejected, "%s: %s", name, infoCode(res))
	}
	return res, nil
}

// waitStatus waits for an onStatus with code. An error level status fails the wait.
func (cl *Client) waitStatus(ctx context.Context, code string) error {
	for {
		var st *Command
		select {
		case st = <-cl.status:
		case <-ctx.Done():
			return ctx.Err()
		case <-cl.done:
			select {
			case st = <-cl.status:
			default:
				return cl.closedErr()
			}
		}
		info, ok := st.Info()
		if !ok {
			continue
		}
		got, _ := info.String("code")
		if level, _ := info.String("level"); level == LevelError {
			return errors.Wrap(ErrRejected, got)
		}
		if got == code {
			return nil
		}
	}
}

func (cl *Client) wait(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-cl.done:
		return cl.closedErr()
	}
}

func (cl *Client) closedErr() error {
	if err := cl.conn.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func infoCode(cmd *Command) string {
	if info, ok := cmd.Info(); ok {
		code, _ := info.String("code")
		return code
	}
	return ""
}

// clientHandler is the Handler side of a Client.
type clientHandler Client

func (h *clientHandler) OnConnect(c *Conn) error {
	close(h.connected)
	return nil
}

func (h *clientHandler) HandleMessage(c *Conn, m *chunk.Message) error {
	switch m.TypeID {
	case chunk.TypeCommandAMF0, chunk.TypeCommandAMF3:
		cmd, err := ParseCommand(m, amf.DecodeOptions{})
		if err != nil {
			return err
		}
		h.handleCommand(cmd)
	case chunk.TypeDataAMF0, chunk.TypeDataAMF3:
		name, values, err := ParseData(m, amf.DecodeOptions{})
		if err != nil {
			return err
		}
		if md, ok := Metadata(name, values); ok && h.onMetadata != nil {
			h.onMetadata(md)
		}
	case chunk.TypeAudio:
		if h.onAudio != nil {
			h.onAudio(m.Payload, m.Timestamp)
		}
	case chunk.TypeVideo:
		if h.onVideo != nil {
			h.onVideo(m.Payload, m.Timestamp)
		}
	}
	return nil
}

func (h *clientHandler) handleCommand(cmd *Command) {
	switch cmd.Name {
	case CommandResult, CommandError:
		h.mu.Lock()
		ch, ok := h.pending[cmd.TransactionID]
		h.mu.Unlock()
		if !ok {
			h.logger.Debug("[client] unexpected result", zap.Float64("transaction", cmd.TransactionID))
			return
		}
		select {
		case ch <- cmd:
		default:
		}
	case CommandOnStatus:
		select {
		case h.status <- cmd:
		default:
			h.logger.Warn("[client] status dropped", zap.String("code", infoCode(cmd)))
		}
	default:
		h.logger.Debug("[client] ignoring command", zap.String("name", cmd.Name))
	}
}
