package amf

import (
	"sync"

	"github.com/pkg/errors"
)

// ClassPolicy decides whether a typed object of the given class may be decoded. Decoders consult it before
// any instance is built. The anonymous class "" never reaches the policy.
type ClassPolicy interface {
	AllowClass(name string) bool
}

// AllowList admits only the listed classes.
type AllowList map[string]struct{}

func NewAllowList(names ...string) AllowList {
	l := make(AllowList, len(names))
	for _, n := range names {
		l[n] = struct{}{}
	}
	return l
}

func (l AllowList) AllowClass(name string) bool {
	_, ok := l[name]
	return ok
}

// DenyList admits every class except the listed ones.
type DenyList map[string]struct{}

func NewDenyList(names ...string) DenyList {
	l := make(DenyList, len(names))
	for _, n := range names {
		l[n] = struct{}{}
	}
	return l
}

func (l DenyList) AllowClass(name string) bool {
	_, denied := l[name]
	return !denied
}

// AnyPolicy admits a class when one of its policies does. Nil entries are skipped.
type AnyPolicy []ClassPolicy

func (p AnyPolicy) AllowClass(name string) bool {
	for _, policy := range p {
		if policy != nil && policy.AllowClass(name) {
			return true
		}
	}
	return false
}

// DecodeOptions configures a decode call. The zero value rejects all typed objects.
type DecodeOptions struct {
	Policy ClassPolicy
	// MaxDepth caps nesting of arrays and objects. Zero means DefaultMaxDepth.
	MaxDepth int
}

const DefaultMaxDepth = 256

// AllowClass applies the policy, failing closed when none is set.
func (o DecodeOptions) AllowClass(name string) bool {
	if name == "" {
		return true
	}
	if o.Policy == nil {
		return false
	}
	return o.Policy.AllowClass(name)
}

func (o DecodeOptions) Depth() int {
	if o.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}

// Encodable is implemented by Go types that know how to present themselves as an AMF value.
type Encodable interface {
	MarshalAMF() (Value, error)
}

// Decodable is implemented by Go types that can be populated from a decoded typed object.
type Decodable interface {
	UnmarshalAMF(o *Object) error
}

var ErrUnknownClass = errors.New("amf: unknown class")

// Registry maps class names to Decodable factories. It is also a ClassPolicy that admits registered
// classes only.
type Registry struct {
	mu      sync.RWMutex
	classes map[string]func() Decodable
}

func NewRegistry() *Registry {
	return &Registry{classes: make(map[string]func() Decodable)}
}

// Register binds className to factory, replacing any previous binding.
func (r *Registry) Register(className string, factory func() Decodable) {
	r.mu.Lock()
	r.classes[className] = factory
	r.mu.Unlock()
}

func (r *Registry) AllowClass(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.classes[name]
	return ok
}

// Instantiate builds the registered Go value for o and fills it in.
func (r *Registry) Instantiate(o *Object) (Decodable, error) {
	r.mu.RLock()
	factory, ok := r.classes[o.ClassName]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownClass, "%q", o.ClassName)
	}
	d := factory()
	if err := d.UnmarshalAMF(o); err != nil {
		return nil, errors.Wrapf(err, "amf: unmarshal %q", o.ClassName)
	}
	return d, nil
}
