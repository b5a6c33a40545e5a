package rtmp

import (
	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/amf/amf0"
	"github.com/streamcore/rtmp/amf/codec"
	"github.com/streamcore/rtmp/chunk"
)

// NetConnection and NetStream command names.
const (
	CommandConnect       = "connect"
	CommandCall          = "call"
	CommandClose         = "close"
	CommandCreateStream  = "createStream"
	CommandReleaseStream = "releaseStream"
	CommandFCPublish     = "FCPublish"
	CommandFCUnpublish   = "FCUnpublish"
	CommandPublish       = "publish"
	CommandPlay          = "play"
	CommandDeleteStream  = "deleteStream"
	CommandCloseStream   = "closeStream"
	CommandGetStreamLen  = "getStreamLength"

	CommandResult      = "_result"
	CommandError       = "_error"
	CommandOnStatus    = "onStatus"
	CommandOnFCPublish = "onFCPublish"
)

// Status codes carried in info objects.
const (
	NetConnectionConnectSuccess  = "NetConnection.Connect.Success"
	NetConnectionConnectRejected = "NetConnection.Connect.Rejected"
	NetConnectionCallFailed      = "NetConnection.Call.Failed"
	NetStreamPublishStart        = "NetStream.Publish.Start"
	NetStreamPublishBadName      = "NetStream.Publish.BadName"
	NetStreamUnpublishSuccess    = "NetStream.Unpublish.Success"
	NetStreamPlayReset           = "NetStream.Play.Reset"
	NetStreamPlayStart           = "NetStream.Play.Start"
	NetStreamPlayStop            = "NetStream.Play.Stop"
	NetStreamPlayStreamNotFound  = "NetStream.Play.StreamNotFound"
	NetStreamPlayUnpublishNotify = "NetStream.Play.UnpublishNotify"
)

const (
	LevelStatus  = "status"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Data message names.
const (
	DataSetDataFrame     = "@setDataFrame"
	DataOnMetaData       = "onMetaData"
	DataRtmpSampleAccess = "|RtmpSampleAccess"
)

// Command is a remote procedure call carried in a command message.
type Command struct {
	Name          string
	TransactionID float64
	// Object is the command object, usually an *amf.Object, or amf.Null.
	Object amf.Value
	Args   []amf.Value
}

// Property returns a field of the command object. ECMA arrays, which some encoders send in place of an
// object, are searched as well.
func (cmd *Command) Property(name string) (amf.Value, bool) {
	switch o := cmd.Object.(type) {
	case *amf.Object:
		return o.Get(name)
	case *amf.ECMAArray:
		return o.Get(name)
	}
	return nil, false
}

// StringProperty returns a string field of the command object, or "".
func (cmd *Command) StringProperty(name string) string {
	v, _ := cmd.Property(name)
	s, _ := amf.AsString(v)
	return s
}

func (cmd *Command) Arg(i int) (amf.Value, bool) {
	if i < 0 || i >= len(cmd.Args) {
		return nil, false
	}
	return cmd.Args[i], true
}

func (cmd *Command) StringArg(i int) (string, bool) {
	v, ok := cmd.Arg(i)
	if !ok {
		return "", false
	}
	return amf.AsString(v)
}

func (cmd *Command) NumberArg(i int) (float64, bool) {
	v, ok := cmd.Arg(i)
	if !ok {
		return 0, false
	}
	return amf.AsNumber(v)
}

// Info returns the info object of a _result, _error or onStatus response: the first argument that is an
// object.
func (cmd *Command) Info() (*amf.Object, bool) {
	for _, v := range cmd.Args {
		if o, ok := v.(*amf.Object); ok {
			return o, true
		}
	}
	return nil, false
}

// NewCommand builds a command message. With amf.Version3 the message is a type 17 command whose values
// past the transaction id are switched to AMF3.
func NewCommand(csid, streamID uint32, version amf.Version, cmd *Command) (*chunk.Message, error) {
	obj := cmd.Object
	if obj == nil {
		obj = amf.Null{}
	}
	values := make([]amf.Value, 0, 3+len(cmd.Args))
	values = append(values, amf.String(cmd.Name), amf.Number(cmd.TransactionID), obj)
	values = append(values, cmd.Args...)

	payload, err := encodeValues(version, 2, values)
	if err != nil {
		return nil, errors.WithMessagef(err, "command %s", cmd.Name)
	}
	typeID := chunk.TypeCommandAMF0
	if version == amf.Version3 {
		typeID = chunk.TypeCommandAMF3
	}
	return &chunk.Message{ChannelID: csid, TypeID: typeID, StreamID: streamID, Payload: payload}, nil
}

// NewData builds a data message such as @setDataFrame or onMetaData.
func NewData(csid, streamID, timestamp uint32, version amf.Version, name string, values ...amf.Value) (*chunk.Message, error) {
	all := append([]amf.Value{amf.String(name)}, values...)
	payload, err := encodeValues(version, 1, all)
	if err != nil {
		return nil, errors.WithMessagef(err, "data %s", name)
	}
	typeID := chunk.TypeDataAMF0
	if version == amf.Version3 {
		typeID = chunk.TypeDataAMF3
	}
	return &chunk.Message{ChannelID: csid, TypeID: typeID, StreamID: streamID, Timestamp: timestamp, Payload: payload}, nil
}

// encodeValues writes values as AMF0. For AMF3 messages the payload starts with a zero format byte and
// every value from index plain on is wrapped in an AVM+ switch.
func encodeValues(version amf.Version, plain int, values []amf.Value) ([]byte, error) {
	switch version {
	case amf.Version0:
		return codec.EncodeAll(amf.Version0, values...)
	case amf.Version3:
	default:
		return nil, errors.Wrapf(amf.ErrUnsupportedVersion, "%d", version)
	}
	out := []byte{0}
	for i, v := range values {
		if i < plain {
			b, err := codec.Encode(v, amf.Version0)
			if err != nil {
				return nil, err
			}
			out = append(out, b...)
			continue
		}
		b, err := codec.Encode(v, amf.Version3)
		if err != nil {
			return nil, err
		}
		out = append(out, amf0.MarkerAvmPlus)
		out = append(out, b...)
	}
	return out, nil
}

// decodeValues reads every AMF value of a command or data message.
func decodeValues(m *chunk.Message, opts amf.DecodeOptions) ([]amf.Value, error) {
	payload := m.Payload
	if (m.TypeID == chunk.TypeCommandAMF3 || m.TypeID == chunk.TypeDataAMF3) && len(payload) > 0 && payload[0] == 0 {
		payload = payload[1:]
	}
	return codec.DecodeAll(payload, amf.Version0, opts)
}

// ParseCommand decodes a command message. Errors match amf.ErrDecode, so a bad command costs only the
// message.
func ParseCommand(m *chunk.Message, opts amf.DecodeOptions) (*Command, error) {
	if m.TypeID != chunk.TypeCommandAMF0 && m.TypeID != chunk.TypeCommandAMF3 {
		return nil, amf.DecodeErrorf(0, "message type %d is not a command", m.TypeID)
	}
	values, err := decodeValues(m, opts)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, amf.DecodeErrorf(0, "empty command message")
	}
	name, ok := amf.AsString(values[0])
	if !ok {
		return nil, amf.DecodeErrorf(0, "command name is %s, not a string", values[0].Type())
	}
	cmd := &Command{Name: name, Object: amf.Null{}}
	if len(values) > 1 {
		if cmd.TransactionID, ok = amf.AsNumber(values[1]); !ok {
			return nil, amf.DecodeErrorf(0, "%s: transaction id is %s, not a number", name, values[1].Type())
		}
	}
	if len(values) > 2 {
		cmd.Object = values[2]
	}
	if len(values) > 3 {
		cmd.Args = values[3:]
	}
	return cmd, nil
}

// ParseData decodes a data message into its name and values.
func ParseData(m *chunk.Message, opts amf.DecodeOptions) (string, []amf.Value, error) {
	if m.TypeID != chunk.TypeDataAMF0 && m.TypeID != chunk.TypeDataAMF3 {
		return "", nil, amf.DecodeErrorf(0, "message type %d is not a data message", m.TypeID)
	}
	values, err := decodeValues(m, opts)
	if err != nil {
		return "", nil, err
	}
	if len(values) == 0 {
		return "", nil, amf.DecodeErrorf(0, "empty data message")
	}
	name, ok := amf.AsString(values[0])
	if !ok {
		return "", nil, amf.DecodeErrorf(0, "data message name is %s, not a string", values[0].Type())
	}
	return name, values[1:], nil
}

// Metadata extracts the stream metadata of an @setDataFrame or onMetaData data message.
func Metadata(name string, values []amf.Value) (amf.Value, bool) {
	if name == DataSetDataFrame {
		if len(values) < 2 {
			return nil, false
		}
		if inner, _ := amf.AsString(values[0]); inner != DataOnMetaData {
			return nil, false
		}
		values = values[1:]
	} else if name != DataOnMetaData || len(values) == 0 {
		return nil, false
	}
	switch values[0].(type) {
	case *amf.Object, *amf.ECMAArray:
		return values[0], true
	}
	return nil, false
}

// StatusObject builds the info object of an onStatus or _result response.
func StatusObject(level, code, description string) *amf.Object {
	return amf.NewObject(
		amf.Property{Name: "level", Value: amf.String(level)},
		amf.Property{Name: "code", Value: amf.String(code)},
		amf.Property{Name: "description", Value: amf.String(description)},
	)
}

// NewStatus builds an onStatus command for a message stream.
func NewStatus(streamID uint32, info *amf.Object) (*chunk.Message, error) {
	return NewCommand(StreamChannel, streamID, amf.Version0, &Command{Name: CommandOnStatus, Args: []amf.Value{info}})
}
