package amf

// Object is an anonymous or typed object.
//
// For AMF3 the traits are derived from the object itself: when Dynamic is false every property is a sealed
// member; when Dynamic is true the first Sealed properties are sealed members and the rest are dynamic.
// AMF0 ignores Sealed and Dynamic.
type Object struct {
	ClassName  string
	Dynamic    bool
	Sealed     int
	Properties []Property
}

// NewObject returns an anonymous object holding props in order.
func NewObject(props ...Property) *Object {
	return &Object{Properties: props}
}

func (o *Object) Get(name string) (Value, bool) {
	return lookup(o.Properties, name)
}

func (o *Object) Set(name string, v Value) {
	o.Properties = store(o.Properties, name, v)
}

// String returns the property as a string when it is one.
func (o *Object) String(name string) (string, bool) {
	v, ok := o.Get(name)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case String:
		return string(s), true
	case XMLDocument:
		return string(s), true
	}
	return "", false
}

// Number returns the property as a float64 when it is a Number or an Integer.
func (o *Object) Number(name string) (float64, bool) {
	v, ok := o.Get(name)
	if !ok {
		return 0, false
	}
	return AsNumber(v)
}

// AsNumber converts Number and Integer values to float64.
func AsNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case Number:
		return float64(n), true
	case Integer:
		return float64(n), true
	}
	return 0, false
}

// AsString converts String values.
func AsString(v Value) (string, bool) {
	s, ok := v.(String)
	return string(s), ok
}

// SealedCount returns the number of sealed trait members of o in AMF3.
func (o *Object) SealedCount() int {
	if !o.Dynamic {
		return len(o.Properties)
	}
	if o.Sealed < 0 {
		return 0
	}
	if o.Sealed > len(o.Properties) {
		return len(o.Properties)
	}
	return o.Sealed
}
