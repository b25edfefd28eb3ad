package tlv

import "slices"

// Item is a decoded TLV8 item with fragments merged.
type Item struct {
	Type  Type
	Value []byte
}

// Decode splits data into items, merging fragmented values.
// Unfragmented values alias data; merged values are freshly allocated.
func Decode(data []byte) ([]Item, error) {
	var (
		items   []Item
		lastLen = -1
	)
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, ErrTruncated
		}
		t, n := Type(data[0]), int(data[1])
		if len(data) < 2+n {
			return nil, ErrTruncated
		}
		value := data[2 : 2+n]
		data = data[2+n:]

		if lastLen == MaxFragmentLen && items[len(items)-1].Type == t {
			prev := &items[len(items)-1]
			merged := make([]byte, 0, len(prev.Value)+n)
			merged = append(merged, prev.Value...)
			prev.Value = append(merged, value...)
		} else {
			items = append(items, Item{Type: t, Value: value})
		}
		lastLen = n
	}
	return items, nil
}

// Values maps item types to their merged values.
type Values map[Type][]byte

// Parse decodes data and collects the requested types. Other types are
// ignored. A requested type appearing twice is an error. With no types
// given, every item is collected.
func Parse(data []byte, types ...Type) (Values, error) {
	items, err := Decode(data)
	if err != nil {
		return nil, err
	}
	values := make(Values, len(types))
	for _, item := range items {
		if len(types) > 0 && !slices.Contains(types, item.Type) {
			continue
		}
		if _, dup := values[item.Type]; dup {
			return nil, ErrDuplicate
		}
		values[item.Type] = item.Value
	}
	return values, nil
}

// Get returns the value for t and whether it was present.
func (v Values) Get(t Type) ([]byte, bool) {
	b, ok := v[t]
	return b, ok
}

// Has reports whether t was present.
func (v Values) Has(t Type) bool {
	_, ok := v[t]
	return ok
}

// Uint8 returns a single-byte item. A present item of any other length
// yields ErrInvalidLength.
func (v Values) Uint8(t Type) (uint8, bool, error) {
	b, ok := v[t]
	if !ok {
		return 0, false, nil
	}
	if len(b) != 1 {
		return 0, true, ErrInvalidLength
	}
	return b[0], true, nil
}
