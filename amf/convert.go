package amf

import (
	"sort"
	"time"
)

// FromGo converts plain Go values into a Value tree. Maps become anonymous objects with keys in sorted
// order so the encoding is deterministic.
func FromGo(v interface{}) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return x, nil
	case Encodable:
		return x.MarshalAMF()
	case bool:
		return Boolean(x), nil
	case string:
		return String(x), nil
	case float64:
		return Number(x), nil
	case float32:
		return Number(x), nil
	case int:
		return Number(x), nil
	case int8:
		return Number(x), nil
	case int16:
		return Number(x), nil
	case int32:
		return Number(x), nil
	case int64:
		return Number(x), nil
	case uint:
		return Number(x), nil
	case uint8:
		return Number(x), nil
	case uint16:
		return Number(x), nil
	case uint32:
		return Number(x), nil
	case uint64:
		return Number(x), nil
	case []byte:
		return ByteArray(x), nil
	case time.Time:
		return Date{Millis: float64(x.UnixNano() / int64(time.Millisecond))}, nil
	case []interface{}:
		arr := &StrictArray{Elements: make([]Value, 0, len(x))}
		for i, e := range x {
			ev, err := FromGo(e)
			if err != nil {
				return nil, EncodeErrorf("element %d: %v", i, err)
			}
			arr.Elements = append(arr.Elements, ev)
		}
		return arr, nil
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := &Object{Properties: make([]Property, 0, len(keys))}
		for _, k := range keys {
			pv, err := FromGo(x[k])
			if err != nil {
				return nil, EncodeErrorf("property %q: %v", k, err)
			}
			obj.Properties = append(obj.Properties, Property{Name: k, Value: pv})
		}
		return obj, nil
	default:
		return nil, EncodeErrorf("unsupported Go type %T", v)
	}
}

// Time converts a Date to a UTC time.Time.
func (d Date) Time() time.Time {
	ms := int64(d.Millis)
	return time.Unix(ms/1000, (ms%1000)*int64(time.Millisecond)).UTC()
}
