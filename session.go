package rtmp

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/chunk"
	"github.com/streamcore/rtmp/config"
	"go.uber.org/zap"
)

// Session is the server side of one client connection. It answers NetConnection and NetStream commands,
// relays what a publisher sends to the Broadcaster, and is the Subscriber through which a player receives
// a stream.
type Session struct {
	cfg         *config.Config
	broadcaster *Broadcaster
	logger      *zap.Logger
	decodeOpts  amf.DecodeOptions
	classes     *amf.Registry
	calls       map[string]CallFunc

	mu           sync.Mutex
	conn         *Conn
	app          string
	connected    bool
	nextStreamID uint32
	streamKey    string
	streamID     uint32
	publishing   bool
	playing      bool
}

// CallFunc answers a client call that is not part of the stream protocol, such as a
// NetConnection.call("checkBandwidth"). Typed object arguments of a registered class arrive as the value the
// registry built; every other argument arrives as an amf.Value. The result is sent back through amf.FromGo.
type CallFunc func(app string, args []interface{}) (interface{}, error)

type SessionOption func(*Session)

// WithClasses admits the classes of r in addition to the configured allow list, and builds their Go
// values for call handlers.
func WithClasses(r *amf.Registry) SessionOption {
	return func(s *Session) { s.classes = r }
}

// WithCalls sets the handlers for client calls by command name.
func WithCalls(calls map[string]CallFunc) SessionOption {
	return func(s *Session) { s.calls = calls }
}

func NewSession(cfg *config.Config, b *Broadcaster, logger *zap.Logger, opts ...SessionOption) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		cfg:          cfg,
		broadcaster:  b,
		logger:       logger,
		nextStreamID: DefaultStreamID,
	}
	for _, opt := range opts {
		opt(s)
	}
	var policy amf.ClassPolicy = amf.NewAllowList(cfg.AMF.AllowedClasses...)
	if s.classes != nil {
		policy = amf.AnyPolicy{policy, s.classes}
	}
	s.decodeOpts = amf.DecodeOptions{Policy: policy, MaxDepth: cfg.AMF.MaxDepth}
	return s
}

// ID is the id of the session's connection.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.ID()
}

// bind attaches the session to its connection. It is called before the connection starts.
func (s *Session) bind(c *Conn) {
	s.conn = c
	s.logger = c.Logger()
}

// App returns the application the client connected to.
func (s *Session) App() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.app
}

func (s *Session) HandleMessage(c *Conn, m *chunk.Message) error {
	switch m.TypeID {
	case chunk.TypeCommandAMF0, chunk.TypeCommandAMF3:
		cmd, err := ParseCommand(m, s.decodeOpts)
		if err != nil {
			return err
		}
		return s.handleCommand(c, m, cmd)
	case chunk.TypeDataAMF0, chunk.TypeDataAMF3:
		return s.handleData(m)
	case chunk.TypeAudio, chunk.TypeVideo:
		return s.handleMedia(m)
	}
	return nil
}

func (s *Session) handleCommand(c *Conn, m *chunk.Message, cmd *Command) error {
	s.logger.Debug("[session] command received", zap.String("name", cmd.Name),
		zap.Float64("transaction", cmd.TransactionID), zap.Uint32("stream", m.StreamID))
	version := amf.Version0
	if m.TypeID == chunk.TypeCommandAMF3 {
		version = amf.Version3
	}

	if cmd.Name == CommandConnect {
		return s.onConnect(c, version, cmd)
	}
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return errors.Wrapf(ErrDecode, "%s before connect", cmd.Name)
	}

	switch cmd.Name {
	case CommandCreateStream:
		return s.onCreateStream(c, version, cmd)
	case CommandReleaseStream:
		return nil
	case CommandFCPublish:
		name, _ := cmd.StringArg(0)
		return s.sendStatus(c, 0, CommandOnFCPublish, StatusObject(LevelStatus, NetStreamPublishStart, name))
	case CommandPublish:
		return s.onPublish(c, m.StreamID, cmd)
	case CommandPlay:
		return s.onPlay(c, m.StreamID, cmd)
	case CommandFCUnpublish:
		return s.onUnpublish(c)
	case CommandDeleteStream, CommandCloseStream:
		s.release()
		return nil
	}
	if call, ok := s.calls[cmd.Name]; ok {
		return s.onCall(c, version, cmd, call)
	}
	s.logger.Debug("[session] ignoring command", zap.String("name", cmd.Name))
	return nil
}

// onCall runs a call handler and answers with _result, or _error when it fails. A transaction id of 0
// asks for no answer.
func (s *Session) onCall(c *Conn, version amf.Version, cmd *Command, call CallFunc) error {
	args := make([]interface{}, len(cmd.Args))
	for i, v := range cmd.Args {
		args[i] = v
		o, ok := v.(*amf.Object)
		if !ok || o.ClassName == "" || s.classes == nil || !s.classes.AllowClass(o.ClassName) {
			continue
		}
		d, err := s.classes.Instantiate(o)
		if err != nil {
			s.logger.Debug("[session] call argument rejected", zap.String("name", cmd.Name), zap.Error(err))
			return s.answerCall(c, version, cmd, nil, err)
		}
		args[i] = d
	}

	result, err := call(s.App(), args)
	var value amf.Value
	if err == nil {
		value, err = amf.FromGo(result)
	}
	if err != nil {
		s.logger.Info("[session] call failed", zap.String("name", cmd.Name), zap.Error(err))
	}
	return s.answerCall(c, version, cmd, value, err)
}

func (s *Session) answerCall(c *Conn, version amf.Version, cmd *Command, value amf.Value, callErr error) error {
	if cmd.TransactionID == 0 {
		return nil
	}
	reply := &Command{Name: CommandResult, TransactionID: cmd.TransactionID, Object: amf.Null{}, Args: []amf.Value{value}}
	if callErr != nil {
		reply.Name = CommandError
		reply.Args = []amf.Value{StatusObject(LevelError, NetConnectionCallFailed, callErr.Error())}
	}
	m, err := NewCommand(CommandChannel, 0, version, reply)
	if err != nil {
		return err
	}
	return c.SendMessage(m)
}

func (s *Session) onConnect(c *Conn, version amf.Version, cmd *Command) error {
	app := normalizeApp(cmd.StringProperty("app"))
	s.mu.Lock()
	s.app = app
	s.mu.Unlock()

	if !s.allowedApp(app) {
		s.logger.Warn("[session] connect to unknown app, closing connection", zap.String("app", app))
		info := StatusObject(LevelError, NetConnectionConnectRejected, "Unknown application "+app)
		reply, err := NewCommand(CommandChannel, 0, version, &Command{Name: CommandError, TransactionID: cmd.TransactionID, Args: []amf.Value{info}})
		if err != nil {
			return err
		}
		if err := c.SendMessage(reply); err != nil {
			return err
		}
		return c.Close()
	}

	rtmpCfg := s.cfg.RTMP
	err := c.SendMessages(
		chunk.NewWindowAckSize(rtmpCfg.WindowAckSize),
		chunk.NewSetPeerBandwidth(rtmpCfg.PeerBandwidth, chunk.LimitDynamic),
		chunk.NewUserControl(chunk.UserControl{Event: chunk.EventStreamBegin}),
	)
	if err != nil {
		return err
	}
	if err := c.SetChunkSize(rtmpCfg.ChunkSize); err != nil {
		return err
	}

	objectEncoding, _ := amf.AsNumber(propertyOrNil(cmd, "objectEncoding"))
	info := StatusObject(LevelStatus, NetConnectionConnectSuccess, "Connection succeeded.")
	info.Set("objectEncoding", amf.Number(objectEncoding))
	reply, err := NewCommand(CommandChannel, 0, version, &Command{
		Name:          CommandResult,
		TransactionID: cmd.TransactionID,
		Object: amf.NewObject(
			amf.Property{Name: "fmsVer", Value: amf.String(config.FlashMediaServerVersion)},
			amf.Property{Name: "capabilities", Value: amf.Number(config.Capabilities)},
			amf.Property{Name: "mode", Value: amf.Number(config.Mode)},
		),
		Args: []amf.Value{info},
	})
	if err != nil {
		return err
	}
	if err := c.SendMessage(reply); err != nil {
		return err
	}
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info("[session] client connected", zap.String("app", app), zap.String("flashVer", cmd.StringProperty("flashVer")))
	return nil
}

func (s *Session) onCreateStream(c *Conn, version amf.Version, cmd *Command) error {
	s.mu.Lock()
	id := s.nextStreamID
	s.nextStreamID++
	s.mu.Unlock()
	reply, err := NewCommand(CommandChannel, 0, version, &Command{
		Name:          CommandResult,
		TransactionID: cmd.TransactionID,
		Args:          []amf.Value{amf.Number(id)},
	})
	if err != nil {
		return err
	}
	return c.SendMessage(reply)
}

func (s *Session) onPublish(c *Conn, streamID uint32, cmd *Command) error {
	name, _ := cmd.StringArg(0)
	publishingType, _ := cmd.StringArg(1)
	key := s.streamKeyFor(name)

	s.mu.Lock()
	busy := s.publishing || s.playing
	s.mu.Unlock()
	if name == "" || busy {
		return s.sendStatus(c, streamID, CommandOnStatus, StatusObject(LevelError, NetStreamPublishBadName, "Invalid stream name "+name))
	}
	if err := s.broadcaster.RegisterPublisher(key, c.ID()); err != nil {
		s.logger.Info("[session] publish rejected", zap.String("stream", key), zap.Error(err))
		return s.sendStatus(c, streamID, CommandOnStatus, StatusObject(LevelError, NetStreamPublishBadName, "Stream "+name+" is already being published"))
	}

	s.mu.Lock()
	s.streamKey, s.streamID, s.publishing = key, streamID, true
	s.mu.Unlock()
	s.logger.Info("[session] publishing", zap.String("stream", key), zap.String("type", publishingType))

	begin := chunk.NewUserControl(chunk.UserControl{Event: chunk.EventStreamBegin, StreamID: streamID})
	if err := c.SendMessage(begin); err != nil {
		return err
	}
	return s.sendStatus(c, streamID, CommandOnStatus, StatusObject(LevelStatus, NetStreamPublishStart, "Publishing "+name+"."))
}

func (s *Session) onPlay(c *Conn, streamID uint32, cmd *Command) error {
	name, _ := cmd.StringArg(0)
	key := s.streamKeyFor(name)

	s.mu.Lock()
	busy := s.publishing || s.playing
	s.mu.Unlock()
	if busy || !s.broadcaster.StreamExists(key) {
		return s.sendStatus(c, streamID, CommandOnStatus, StatusObject(LevelError, NetStreamPlayStreamNotFound, "Stream "+name+" not found"))
	}

	begin := chunk.NewUserControl(chunk.UserControl{Event: chunk.EventStreamBegin, StreamID: streamID})
	reset, err := NewStatus(streamID, StatusObject(LevelStatus, NetStreamPlayReset, "Playing and resetting "+name+"."))
	if err != nil {
		return err
	}
	start, err := NewStatus(streamID, StatusObject(LevelStatus, NetStreamPlayStart, "Started playing "+name+"."))
	if err != nil {
		return err
	}
	access, err := NewData(StreamChannel, streamID, 0, amf.Version0, DataRtmpSampleAccess, amf.Boolean(true), amf.Boolean(true))
	if err != nil {
		return err
	}
	if err := c.SendMessages(begin, reset, start, access); err != nil {
		return err
	}

	s.mu.Lock()
	s.streamKey, s.streamID, s.playing = key, streamID, true
	s.mu.Unlock()
	if err := s.broadcaster.Subscribe(key, s); err != nil {
		s.mu.Lock()
		s.playing = false
		s.mu.Unlock()
		if errors.Is(err, ErrStreamNotFound) {
			return s.sendStatus(c, streamID, CommandOnStatus, StatusObject(LevelError, NetStreamPlayStreamNotFound, "Stream "+name+" not found"))
		}
		return err
	}
	s.logger.Info("[session] playing", zap.String("stream", key))
	return nil
}

func (s *Session) onUnpublish(c *Conn) error {
	s.mu.Lock()
	publishing, streamID := s.publishing, s.streamID
	s.mu.Unlock()
	if !publishing {
		return nil
	}
	s.release()
	return s.sendStatus(c, streamID, CommandOnStatus, StatusObject(LevelStatus, NetStreamUnpublishSuccess, "Stopped publishing."))
}

func (s *Session) handleData(m *chunk.Message) error {
	key, publishing := s.publishedStream(m.StreamID)
	if !publishing {
		return nil
	}
	name, values, err := ParseData(m, s.decodeOpts)
	if err != nil {
		return err
	}
	if md, ok := Metadata(name, values); ok {
		s.logger.Debug("[session] metadata received", zap.String("stream", key))
		return s.broadcaster.BroadcastMetadata(key, md)
	}
	return nil
}

func (s *Session) handleMedia(m *chunk.Message) error {
	key, publishing := s.publishedStream(m.StreamID)
	if !publishing || len(m.Payload) == 0 {
		return nil
	}
	if m.TypeID == chunk.TypeAudio {
		return s.broadcaster.BroadcastAudio(key, m.Payload, m.Timestamp)
	}
	return s.broadcaster.BroadcastVideo(key, m.Payload, m.Timestamp)
}

func (s *Session) publishedStream(streamID uint32) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamKey, s.publishing && s.streamID == streamID
}

// OnClose ends whatever the session was publishing or playing.
func (s *Session) OnClose(c *Conn, err error) {
	s.release()
	if err != nil {
		s.logger.Info("[session] session ended", zap.Error(err))
		return
	}
	s.logger.Info("[session] session ended")
}

func (s *Session) release() {
	s.mu.Lock()
	key, publishing, playing := s.streamKey, s.publishing, s.playing
	s.publishing, s.playing = false, false
	s.mu.Unlock()

	if publishing {
		s.broadcaster.BroadcastEndOfStream(key)
		if err := s.broadcaster.DestroyPublisher(key, s.ID()); err != nil {
			s.logger.Warn("[session] failed to remove publisher", zap.String("stream", key), zap.Error(err))
		}
	}
	if playing {
		s.broadcaster.Unsubscribe(key, s.ID())
	}
}

func (s *Session) SendAudio(payload []byte, timestamp uint32) error {
	return s.sendMedia(AudioChannel, chunk.TypeAudio, payload, timestamp)
}

func (s *Session) SendVideo(payload []byte, timestamp uint32) error {
	return s.sendMedia(VideoChannel, chunk.TypeVideo, payload, timestamp)
}

func (s *Session) sendMedia(csid uint32, typeID uint8, payload []byte, timestamp uint32) error {
	c, streamID := s.playback()
	if c == nil {
		return ErrNotConnected
	}
	return c.SendMessage(&chunk.Message{ChannelID: csid, TypeID: typeID, StreamID: streamID, Timestamp: timestamp, Payload: payload})
}

func (s *Session) SendMetadata(metadata amf.Value) error {
	c, streamID := s.playback()
	if c == nil {
		return ErrNotConnected
	}
	m, err := NewData(StreamChannel, streamID, 0, amf.Version0, DataOnMetaData, metadata)
	if err != nil {
		return err
	}
	return c.SendMessage(m)
}

func (s *Session) SendEndOfStream() error {
	c, streamID := s.playback()
	if c == nil {
		return ErrNotConnected
	}
	notify, err := NewStatus(streamID, StatusObject(LevelStatus, NetStreamPlayUnpublishNotify, "Stream was unpublished."))
	if err != nil {
		return err
	}
	eof := chunk.NewUserControl(chunk.UserControl{Event: chunk.EventStreamEOF, StreamID: streamID})
	return c.SendMessages(eof, notify)
}

func (s *Session) playback() (*Conn, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.streamID
}

func (s *Session) sendStatus(c *Conn, streamID uint32, name string, info *amf.Object) error {
	m, err := NewCommand(StreamChannel, streamID, amf.Version0, &Command{Name: name, Args: []amf.Value{info}})
	if err != nil {
		return err
	}
	return c.SendMessage(m)
}

func (s *Session) allowedApp(app string) bool {
	for _, a := range s.cfg.RTMP.Apps {
		if a == app {
			return true
		}
	}
	return false
}

// streamKeyFor scopes a stream name to the application and drops any query string.
func (s *Session) streamKeyFor(name string) string {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.app + "/" + name
}

func normalizeApp(app string) string {
	if i := strings.IndexByte(app, '?'); i >= 0 {
		app = app[:i]
	}
	return strings.Trim(app, "/")
}

func propertyOrNil(cmd *Command, name string) amf.Value {
	v, _ := cmd.Property(name)
	return v
}
