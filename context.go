package rtmp

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/streamcore/rtmp/amf"
)

var (
	ErrStreamNotFound = errors.New("rtmp: stream not found")
	ErrStreamExists   = errors.New("rtmp: stream already has a publisher")
)

// ContextStore keeps the live streams of a server: who publishes each stream key, who plays it, and the
// state a late joiner needs before the next key frame.
type ContextStore interface {
	RegisterPublisher(streamKey, publisherID string) error
	DestroyPublisher(streamKey, publisherID string) error
	RegisterSubscriber(streamKey string, subscriber Subscriber) error
	Subscribers(streamKey string) ([]Subscriber, error)
	DestroySubscriber(streamKey, subscriberID string) error
	StreamExists(streamKey string) bool

	SetAVCSequenceHeader(streamKey string, payload []byte)
	AVCSequenceHeader(streamKey string) []byte
	SetAACSequenceHeader(streamKey string, payload []byte)
	AACSequenceHeader(streamKey string) []byte
	SetMetadata(streamKey string, metadata amf.Value)
	Metadata(streamKey string) amf.Value
}

type stream struct {
	publisherID string
	subscribers []Subscriber
	avcHeader   []byte
	aacHeader   []byte
	metadata    amf.Value
}

// InMemoryContext is a ContextStore for a single server process.
type InMemoryContext struct {
	mu      sync.RWMutex
	streams map[string]*stream
}

func NewInMemoryContext() *InMemoryContext {
	return &InMemoryContext{streams: make(map[string]*stream)}
}

func (c *InMemoryContext) RegisterPublisher(streamKey, publisherID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.streams[streamKey]; exists {
		return errors.Wrap(ErrStreamExists, streamKey)
	}
	// a few subscribers per stream is the common case
	c.streams[streamKey] = &stream{publisherID: publisherID, subscribers: make([]Subscriber, 0, 4)}
	return nil
}

// DestroyPublisher removes the stream if publisherID still owns it.
func (c *InMemoryContext) DestroyPublisher(streamKey, publisherID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, exists := c.streams[streamKey]
	if !exists || s.publisherID != publisherID {
		return errors.Wrap(ErrStreamNotFound, streamKey)
	}
	delete(c.streams, streamKey)
	return nil
}

func (c *InMemoryContext) RegisterSubscriber(streamKey string, subscriber Subscriber) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return errors.Wrap(ErrStreamNotFound, streamKey)
	}
	s.subscribers = append(s.subscribers, subscriber)
	return nil
}

// Subscribers returns a snapshot of the subscribers of a stream. The caller may send to them without
// holding any lock of the store.
func (c *InMemoryContext) Subscribers(streamKey string) ([]Subscriber, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return nil, errors.Wrap(ErrStreamNotFound, streamKey)
	}
	return append([]Subscriber(nil), s.subscribers...), nil
}

func (c *InMemoryContext) DestroySubscriber(streamKey, subscriberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, exists := c.streams[streamKey]
	if !exists {
		return nil
	}
	for i, sub := range s.subscribers {
		if sub.ID() == subscriberID {
			last := len(s.subscribers) - 1
			s.subscribers[i] = s.subscribers[last]
			s.subscribers[last] = nil
			s.subscribers = s.subscribers[:last]
			return nil
		}
	}
	return nil
}

func (c *InMemoryContext) StreamExists(streamKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, exists := c.streams[streamKey]
	return exists
}

func (c *InMemoryContext) update(streamKey string, f func(s *stream)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, exists := c.streams[streamKey]; exists {
		f(s)
	}
}

func (c *InMemoryContext) read(streamKey string, f func(s *stream)) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, exists := c.streams[streamKey]; exists {
		f(s)
	}
}

func (c *InMemoryContext) SetAVCSequenceHeader(streamKey string, payload []byte) {
	c.update(streamKey, func(s *stream) { s.avcHeader = payload })
}

func (c *InMemoryContext) AVCSequenceHeader(streamKey string) (payload []byte) {
	c.read(streamKey, func(s *stream) { payload = s.avcHeader })
	return payload
}

func (c *InMemoryContext) SetAACSequenceHeader(streamKey string, payload []byte) {
	c.update(streamKey, func(s *stream) { s.aacHeader = payload })
}

func (c *InMemoryContext) AACSequenceHeader(streamKey string) (payload []byte) {
	c.read(streamKey, func(s *stream) { payload = s.aacHeader })
	return payload
}

func (c *InMemoryContext) SetMetadata(streamKey string, metadata amf.Value) {
	c.update(streamKey, func(s *stream) { s.metadata = metadata })
}

func (c *InMemoryContext) Metadata(streamKey string) (metadata amf.Value) {
	c.read(streamKey, func(s *stream) { metadata = s.metadata })
	return metadata
}
