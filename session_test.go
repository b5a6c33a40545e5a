package rtmp

import (
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/chunk"
	"github.com/streamcore/rtmp/config"
	"go.uber.org/zap/zaptest"
)

// peer drives a server Session from the client side of an in-memory connection.
type peer struct {
	t       *testing.T
	session *Session
	conn    *Conn
	w       *bufferWriter
	enc     *chunk.Encoder
	dec     *chunk.Decoder
	tid     float64
}

func newPeer(t *testing.T, b *Broadcaster, opts ...SessionOption) *peer {
	t.Helper()
	cfg := config.Default()
	s := NewSession(cfg, b, zaptest.NewLogger(t), opts...)
	w := &bufferWriter{}
	c := NewConn(w, &handshakerMock{need: 1}, WithLogger(zaptest.NewLogger(t)), WithHandler(s))
	s.bind(c)
	if err := c.Start(); err != nil {
		t.Fatal(err)
	}
	if err := c.Feed([]byte{0}); err != nil {
		t.Fatal(err)
	}
	w.take()
	return &peer{t: t, session: s, conn: c, w: w, enc: chunk.NewEncoder(), dec: chunk.NewDecoder()}
}

func (p *peer) send(ms ...*chunk.Message) {
	p.t.Helper()
	if err := p.conn.Feed(encode(p.t, p.enc, ms...)); err != nil {
		p.t.Fatal(err)
	}
}

func (p *peer) command(streamID uint32, name string, object amf.Value, args ...amf.Value) {
	p.t.Helper()
	p.tid++
	m, err := NewCommand(CommandChannel, streamID, amf.Version0, &Command{Name: name, TransactionID: p.tid, Object: object, Args: args})
	if err != nil {
		p.t.Fatal(err)
	}
	p.send(m)
}

// read decodes everything the server wrote since the last call, applying chunk size changes.
func (p *peer) read() []*chunk.Message {
	p.t.Helper()
	b := p.w.take()
	var msgs []*chunk.Message
	for len(b) > 0 {
		n, _, m, err := p.dec.DecodeChunk(b)
		if err != nil {
			p.t.Fatal(err)
		}
		if n == 0 {
			p.t.Fatalf("%d trailing bytes", len(b))
		}
		b = b[n:]
		if m == nil {
			continue
		}
		if m.TypeID == chunk.TypeSetChunkSize {
			ctl, err := chunk.ParseControl(m)
			if err != nil {
				p.t.Fatal(err)
			}
			if err := p.dec.SetChunkSize(ctl.Value); err != nil {
				p.t.Fatal(err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func (p *peer) connect(app string) []*chunk.Message {
	p.t.Helper()
	p.command(0, CommandConnect, amf.NewObject(
		amf.Property{Name: "app", Value: amf.String(app)},
		amf.Property{Name: "tcUrl", Value: amf.String("rtmp://localhost/" + app)},
	))
	return p.read()
}

func (p *peer) createStream() uint32 {
	p.t.Helper()
	p.command(0, CommandCreateStream, amf.Null{})
	cmd := parseOnly(p.t, p.read())
	id, ok := cmd.NumberArg(0)
	if cmd.Name != CommandResult || !ok {
		p.t.Fatalf("createStream answered with %s", spew.Sdump(cmd))
	}
	return uint32(id)
}

func parseOnly(t *testing.T, msgs []*chunk.Message) *Command {
	t.Helper()
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %s", spew.Sdump(msgs))
	}
	cmd, err := ParseCommand(msgs[0], amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	return cmd
}

func statusCode(t *testing.T, m *chunk.Message) string {
	t.Helper()
	cmd, err := ParseCommand(m, amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	info, ok := cmd.Info()
	if !ok {
		t.Fatalf("no info object in %s", spew.Sdump(cmd))
	}
	code, _ := info.String("code")
	return code
}

func typeIDs(msgs []*chunk.Message) []uint8 {
	ids := make([]uint8, len(msgs))
	for i, m := range msgs {
		ids[i] = m.TypeID
	}
	return ids
}

func newTestBroadcaster(t *testing.T) *Broadcaster {
	return NewBroadcaster(NewInMemoryContext(), zaptest.NewLogger(t))
}

func TestSessionConnect(t *testing.T) {
	p := newPeer(t, newTestBroadcaster(t))
	msgs := p.connect(config.DefaultApp)

	want := []uint8{chunk.TypeWindowAckSize, chunk.TypeSetPeerBandwidth, chunk.TypeUserControl, chunk.TypeSetChunkSize, chunk.TypeCommandAMF0}
	if got := typeIDs(msgs); !reflect.DeepEqual(got, want) {
		t.Fatalf("connect answered with types %v, want %v", got, want)
	}
	ack, _ := chunk.ParseControl(msgs[0])
	bw, _ := chunk.ParseControl(msgs[1])
	if ack.Value != config.DefaultWindowAckSize || bw.Value != config.DefaultPeerBandwidth || bw.Limit != chunk.LimitDynamic {
		t.Errorf("window %d, bandwidth %d limit %d", ack.Value, bw.Value, bw.Limit)
	}
	if p.conn.ChunkSize() != config.DefaultChunkSize {
		t.Errorf("chunk size %d", p.conn.ChunkSize())
	}

	cmd, err := ParseCommand(msgs[4], amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Name != CommandResult || cmd.TransactionID != 1 {
		t.Errorf("got %s", spew.Sdump(cmd))
	}
	if v := cmd.StringProperty("fmsVer"); v != config.FlashMediaServerVersion {
		t.Errorf("fmsVer %q", v)
	}
	if code := statusCode(t, msgs[4]); code != NetConnectionConnectSuccess {
		t.Errorf("code %q", code)
	}
	if p.session.App() != config.DefaultApp {
		t.Errorf("app %q", p.session.App())
	}
}

func TestSessionConnectRejected(t *testing.T) {
	p := newPeer(t, newTestBroadcaster(t))
	msgs := p.connect("unknown")
	cmd := parseOnly(t, msgs)
	if cmd.Name != CommandError {
		t.Fatalf("got %s", spew.Sdump(cmd))
	}
	if code := statusCode(t, msgs[0]); code != NetConnectionConnectRejected {
		t.Errorf("code %q", code)
	}
	if p.conn.State() != StateDisconnected {
		t.Errorf("state %v", p.conn.State())
	}
}

func TestSessionCommandBeforeConnectDropped(t *testing.T) {
	p := newPeer(t, newTestBroadcaster(t))
	p.command(0, CommandCreateStream, amf.Null{})
	if msgs := p.read(); len(msgs) != 0 {
		t.Errorf("unexpected answer %s", spew.Sdump(msgs))
	}
	if p.conn.State() != StateConnected {
		t.Errorf("state %v", p.conn.State())
	}
}

func TestSessionDisallowedClassDropped(t *testing.T) {
	p := newPeer(t, newTestBroadcaster(t))
	p.command(0, CommandConnect, &amf.Object{ClassName: "com.example.Exploit"})
	if msgs := p.read(); len(msgs) != 0 {
		t.Errorf("unexpected answer %s", spew.Sdump(msgs))
	}
	if p.conn.State() != StateConnected {
		t.Fatalf("state %v", p.conn.State())
	}
	// the connection is still usable
	if msgs := p.connect(config.DefaultApp); len(msgs) != 5 {
		t.Errorf("got %d messages", len(msgs))
	}
}

func publish(t *testing.T, p *peer, name string) (uint32, string) {
	t.Helper()
	p.connect(config.DefaultApp)
	id := p.createStream()
	p.command(id, CommandPublish, amf.Null{}, amf.String(name), amf.String("live"))
	msgs := p.read()
	return id, statusCode(t, msgs[len(msgs)-1])
}

func TestSessionPublishPlay(t *testing.T) {
	b := newTestBroadcaster(t)
	pub, sub := newPeer(t, b), newPeer(t, b)

	streamID, code := publish(t, pub, "stream?key=1")
	if code != NetStreamPublishStart {
		t.Fatalf("publish: %q", code)
	}

	meta := &amf.ECMAArray{Properties: []amf.Property{{Name: "width", Value: amf.Number(640)}}}
	setDataFrame, err := NewData(StreamChannel, streamID, 0, amf.Version0, DataSetDataFrame, amf.String(DataOnMetaData), meta)
	if err != nil {
		t.Fatal(err)
	}
	avcHeader := []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x64}
	aacHeader := []byte{0xAF, 0x00, 0x12, 0x10}
	pub.send(
		setDataFrame,
		&chunk.Message{ChannelID: VideoChannel, TypeID: chunk.TypeVideo, StreamID: streamID, Payload: avcHeader},
		&chunk.Message{ChannelID: AudioChannel, TypeID: chunk.TypeAudio, StreamID: streamID, Payload: aacHeader},
	)

	sub.connect(config.DefaultApp)
	playID := sub.createStream()
	sub.command(playID, CommandPlay, amf.Null{}, amf.String("stream"))
	msgs := sub.read()
	want := []uint8{chunk.TypeUserControl, chunk.TypeCommandAMF0, chunk.TypeCommandAMF0, chunk.TypeDataAMF0,
		chunk.TypeDataAMF0, chunk.TypeVideo, chunk.TypeAudio}
	if got := typeIDs(msgs); !reflect.DeepEqual(got, want) {
		t.Fatalf("play answered with types %v, want %v", got, want)
	}
	if code := statusCode(t, msgs[1]); code != NetStreamPlayReset {
		t.Errorf("code %q", code)
	}
	if code := statusCode(t, msgs[2]); code != NetStreamPlayStart {
		t.Errorf("code %q", code)
	}
	name, values, err := ParseData(msgs[4], amf.DecodeOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got, ok := Metadata(name, values); !ok || !reflect.DeepEqual(got, meta) {
		t.Errorf("late joiner metadata %s", spew.Sdump(name, values))
	}
	if !reflect.DeepEqual(msgs[5].Payload, avcHeader) || !reflect.DeepEqual(msgs[6].Payload, aacHeader) {
		t.Errorf("cached sequence headers %s", spew.Sdump(msgs[5:]))
	}

	frame := []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xAA, 0xBB}
	pub.send(&chunk.Message{ChannelID: VideoChannel, TypeID: chunk.TypeVideo, StreamID: streamID, Timestamp: 40, Payload: frame})
	msgs = sub.read()
	if len(msgs) != 1 || msgs[0].TypeID != chunk.TypeVideo || msgs[0].Timestamp != 40 || msgs[0].StreamID != playID {
		t.Fatalf("relayed %s", spew.Sdump(msgs))
	}
	if !reflect.DeepEqual(msgs[0].Payload, frame) {
		t.Errorf("payload % x", msgs[0].Payload)
	}

	// media on another message stream is not relayed
	pub.send(&chunk.Message{ChannelID: VideoChannel, TypeID: chunk.TypeVideo, StreamID: streamID + 1, Timestamp: 80, Payload: frame})
	if msgs := sub.read(); len(msgs) != 0 {
		t.Errorf("relayed %s", spew.Sdump(msgs))
	}

	pub.command(0, CommandFCUnpublish, amf.Null{}, amf.String("stream"))
	if code := statusCode(t, pub.read()[0]); code != NetStreamUnpublishSuccess {
		t.Errorf("unpublish: %q", code)
	}
	msgs = sub.read()
	if len(msgs) != 2 || msgs[0].TypeID != chunk.TypeUserControl || statusCode(t, msgs[1]) != NetStreamPlayUnpublishNotify {
		t.Errorf("end of stream %s", spew.Sdump(msgs))
	}
	if b.StreamExists(config.DefaultApp + "/stream") {
		t.Error("stream still registered")
	}
}

func TestSessionPublishBadName(t *testing.T) {
	b := newTestBroadcaster(t)
	if _, code := publish(t, newPeer(t, b), "taken"); code != NetStreamPublishStart {
		t.Fatalf("first publish: %q", code)
	}
	if _, code := publish(t, newPeer(t, b), "taken"); code != NetStreamPublishBadName {
		t.Errorf("second publish: %q", code)
	}
	if _, code := publish(t, newPeer(t, b), ""); code != NetStreamPublishBadName {
		t.Errorf("empty name: %q", code)
	}
}

func TestSessionPlayNotFound(t *testing.T) {
	p := newPeer(t, newTestBroadcaster(t))
	p.connect(config.DefaultApp)
	id := p.createStream()
	p.command(id, CommandPlay, amf.Null{}, amf.String("missing"))
	msgs := p.read()
	if len(msgs) != 1 || statusCode(t, msgs[0]) != NetStreamPlayStreamNotFound {
		t.Errorf("got %s", spew.Sdump(msgs))
	}
}

func TestSessionCloseReleasesStream(t *testing.T) {
	b := newTestBroadcaster(t)
	pub, sub := newPeer(t, b), newPeer(t, b)
	publish(t, pub, "live")
	sub.connect(config.DefaultApp)
	sub.command(sub.createStream(), CommandPlay, amf.Null{}, amf.String("live"))
	sub.read()

	if err := pub.conn.Close(); err != nil {
		t.Fatal(err)
	}
	if b.StreamExists(config.DefaultApp + "/live") {
		t.Error("stream still registered after the publisher closed")
	}
	msgs := sub.read()
	if len(msgs) != 2 || statusCode(t, msgs[1]) != NetStreamPlayUnpublishNotify {
		t.Errorf("end of stream %s", spew.Sdump(msgs))
	}
}

type resolution struct {
	Width, Height float64
}

func (r *resolution) UnmarshalAMF(o *amf.Object) error {
	r.Width, _ = o.Number("width")
	r.Height, _ = o.Number("height")
	return nil
}

func (r *resolution) MarshalAMF() (amf.Value, error) {
	return amf.NewObject(
		amf.Property{Name: "width", Value: amf.Number(r.Width)},
		amf.Property{Name: "height", Value: amf.Number(r.Height)},
	), nil
}

func newResolutionRegistry() *amf.Registry {
	r := amf.NewRegistry()
	r.Register("app.Resolution", func() amf.Decodable { return &resolution{} })
	return r
}

func resolutionObject(class string, w, h float64) *amf.Object {
	return &amf.Object{ClassName: class, Properties: []amf.Property{
		{Name: "width", Value: amf.Number(w)},
		{Name: "height", Value: amf.Number(h)},
	}}
}

var errBusy = errors.New("encoder busy")

// resolutionCalls doubles a registered resolution argument, and fails on "reconfigure".
func resolutionCalls(t *testing.T) map[string]CallFunc {
	return map[string]CallFunc{
		"scale": func(app string, args []interface{}) (interface{}, error) {
			if app != config.DefaultApp {
				t.Errorf("app %q", app)
			}
			if len(args) != 1 {
				return nil, errors.Errorf("%d arguments", len(args))
			}
			r, ok := args[0].(*resolution)
			if !ok {
				return nil, errors.Errorf("argument is %T", args[0])
			}
			return &resolution{Width: r.Width * 2, Height: r.Height * 2}, nil
		},
		"reconfigure": func(app string, args []interface{}) (interface{}, error) {
			return nil, errBusy
		},
	}
}

func TestSessionCall(t *testing.T) {
	p := newPeer(t, newTestBroadcaster(t), WithClasses(newResolutionRegistry()), WithCalls(resolutionCalls(t)))
	p.connect(config.DefaultApp)

	p.command(0, "scale", amf.Null{}, resolutionObject("app.Resolution", 640, 360))
	cmd := parseOnly(t, p.read())
	if cmd.Name != CommandResult || cmd.TransactionID != p.tid {
		t.Fatalf("got %s", spew.Sdump(cmd))
	}
	want := amf.NewObject(
		amf.Property{Name: "width", Value: amf.Number(1280)},
		amf.Property{Name: "height", Value: amf.Number(720)},
	)
	if got, _ := cmd.Arg(0); !reflect.DeepEqual(got, want) {
		t.Errorf("result %s", spew.Sdump(got))
	}

	p.command(0, "reconfigure", amf.Null{})
	msgs := p.read()
	if cmd := parseOnly(t, msgs); cmd.Name != CommandError {
		t.Fatalf("got %s", spew.Sdump(cmd))
	}
	if code := statusCode(t, msgs[0]); code != NetConnectionCallFailed {
		t.Errorf("code %q", code)
	}

	// a class outside both the registry and the allow list costs only the message
	p.command(0, "scale", amf.Null{}, resolutionObject("app.Other", 1, 1))
	if msgs := p.read(); len(msgs) != 0 {
		t.Errorf("answered an unregistered class with %s", spew.Sdump(msgs))
	}

	// transaction id 0 asks for no answer
	m, err := NewCommand(CommandChannel, 0, amf.Version0, &Command{Name: "scale", Args: []amf.Value{resolutionObject("app.Resolution", 2, 2)}})
	if err != nil {
		t.Fatal(err)
	}
	p.send(m)
	if msgs := p.read(); len(msgs) != 0 {
		t.Errorf("answered a call without transaction id: %s", spew.Sdump(msgs))
	}
	if p.conn.State() != StateConnected {
		t.Errorf("state %v", p.conn.State())
	}
}

func TestSessionUnknownCallIgnored(t *testing.T) {
	p := newPeer(t, newTestBroadcaster(t))
	p.connect(config.DefaultApp)
	p.command(0, "scale", amf.Null{}, resolutionObject("app.Resolution", 640, 360))
	if msgs := p.read(); len(msgs) != 0 {
		t.Errorf("got %s", spew.Sdump(msgs))
	}
}
