package rtmp

import (
	"github.com/streamcore/rtmp/amf"
	"github.com/streamcore/rtmp/media"
	"go.uber.org/zap"
)

// A Subscriber is sent the audio, video and data messages of the stream it plays. The payloads are
// shared between subscribers and must not be modified.
type Subscriber interface {
	ID() string
	SendAudio(payload []byte, timestamp uint32) error
	SendVideo(payload []byte, timestamp uint32) error
	SendMetadata(metadata amf.Value) error
	SendEndOfStream() error
}

// Broadcaster relays the messages of each publisher to the subscribers of its stream, caching sequence
// headers and metadata for subscribers that join late.
type Broadcaster struct {
	context ContextStore
	logger  *zap.Logger
}

func NewBroadcaster(context ContextStore, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{context: context, logger: logger}
}

func (b *Broadcaster) RegisterPublisher(streamKey, publisherID string) error {
	return b.context.RegisterPublisher(streamKey, publisherID)
}

func (b *Broadcaster) DestroyPublisher(streamKey, publisherID string) error {
	return b.context.DestroyPublisher(streamKey, publisherID)
}

func (b *Broadcaster) StreamExists(streamKey string) bool {
	return b.context.StreamExists(streamKey)
}

// Subscribe sends the cached metadata and sequence headers of the stream to sub and then registers it
// for the live messages.
func (b *Broadcaster) Subscribe(streamKey string, sub Subscriber) error {
	if md := b.context.Metadata(streamKey); md != nil {
		if err := sub.SendMetadata(md); err != nil {
			return err
		}
	}
	if h := b.context.AVCSequenceHeader(streamKey); h != nil {
		b.logger.Debug("[broadcaster] sending cached AVC sequence header", zap.String("stream", streamKey), zap.Int("length", len(h)))
		if err := sub.SendVideo(h, 0); err != nil {
			return err
		}
	}
	if h := b.context.AACSequenceHeader(streamKey); h != nil {
		b.logger.Debug("[broadcaster] sending cached AAC sequence header", zap.String("stream", streamKey), zap.Int("length", len(h)))
		if err := sub.SendAudio(h, 0); err != nil {
			return err
		}
	}
	return b.context.RegisterSubscriber(streamKey, sub)
}

func (b *Broadcaster) Unsubscribe(streamKey, subscriberID string) error {
	return b.context.DestroySubscriber(streamKey, subscriberID)
}

func (b *Broadcaster) BroadcastAudio(streamKey string, payload []byte, timestamp uint32) error {
	if media.IsAACSequenceHeader(payload) {
		b.context.SetAACSequenceHeader(streamKey, payload)
	}
	return b.each(streamKey, "audio", func(sub Subscriber) error {
		return sub.SendAudio(payload, timestamp)
	})
}

func (b *Broadcaster) BroadcastVideo(streamKey string, payload []byte, timestamp uint32) error {
	if media.IsAVCSequenceHeader(payload) {
		b.context.SetAVCSequenceHeader(streamKey, payload)
	}
	return b.each(streamKey, "video", func(sub Subscriber) error {
		return sub.SendVideo(payload, timestamp)
	})
}

func (b *Broadcaster) BroadcastMetadata(streamKey string, metadata amf.Value) error {
	b.context.SetMetadata(streamKey, metadata)
	return b.each(streamKey, "metadata", func(sub Subscriber) error {
		return sub.SendMetadata(metadata)
	})
}

func (b *Broadcaster) BroadcastEndOfStream(streamKey string) error {
	return b.each(streamKey, "end of stream", func(sub Subscriber) error {
		return sub.SendEndOfStream()
	})
}

// each calls send for every subscriber. A failing subscriber does not stop the others; it is removed
// when its own connection closes.
func (b *Broadcaster) each(streamKey, what string, send func(Subscriber) error) error {
	subscribers, err := b.context.Subscribers(streamKey)
	if err != nil {
		b.logger.Warn("[broadcaster] no subscribers for "+what, zap.String("stream", streamKey), zap.Error(err))
		return err
	}
	for _, sub := range subscribers {
		if err := send(sub); err != nil {
			b.logger.Debug("[broadcaster] failed to send "+what, zap.String("stream", streamKey),
				zap.String("subscriber", sub.ID()), zap.Error(err))
		}
	}
	return nil
}
