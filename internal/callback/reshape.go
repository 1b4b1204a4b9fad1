package callback

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/TahaAdapt/vapi-make-proxy/internal/payload"
)

// SlotsField is the callback field holding availability keyed by date.
const SlotsField = "slotsAvailable"

// DefaultTraceKeys are the non-date keys dropped from slotsAvailable.
var DefaultTraceKeys = []string{"traceId"}

var positionalKey = regexp.MustCompile(`^Date[1-9][0-9]*$`)

var emptySlots = json.RawMessage(`[]`)

// DateSlots is one reshaped day of availability.
type DateSlots struct {
	Date  string          `json:"date"`
	Slots json.RawMessage `json:"slots"`
}

// Slots is slotsAvailable in positional form. It marshals as an object with
// keys Date1..DateN in slice order.
type Slots []DateSlots

// MarshalJSON writes the positional keys in order; a map would sort Date10
// before Date2.
func (s Slots) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, day := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `"Date%d":`, i+1)

		if len(day.Slots) == 0 {
			day.Slots = emptySlots
		}
		b, err := json.Marshal(day)
		if err != nil {
			return nil, fmt.Errorf("marshal %s: %w", day.Date, err)
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Reshaper rewrites slotsAvailable into positional form.
type Reshaper struct {
	traceKeys map[string]struct{}
}

// NewReshaper builds a Reshaper that drops the given trace keys. A nil slice
// uses DefaultTraceKeys; an empty non-nil slice drops nothing.
func NewReshaper(traceKeys []string) *Reshaper {
	if traceKeys == nil {
		traceKeys = DefaultTraceKeys
	}
	keys := make(map[string]struct{}, len(traceKeys))
	for _, k := range traceKeys {
		keys[k] = struct{}{}
	}
	return &Reshaper{traceKeys: keys}
}

// Reshape returns p with slotsAvailable rewritten. Payloads without a
// slotsAvailable object, or whose slotsAvailable is already positional, are
// returned unchanged.
func (r *Reshaper) Reshape(p payload.Payload) (payload.Payload, error) {
	raw, ok := p[SlotsField]
	if !ok {
		return p, nil
	}

	keys, values, isObject, err := orderedObject(raw)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", SlotsField, err)
	}
	if !isObject || isPositional(keys, values) {
		return p, nil
	}

	slots := make(Slots, 0, len(keys))
	for i, key := range keys {
		if _, drop := r.traceKeys[key]; drop {
			continue
		}
		slots = append(slots, DateSlots{Date: key, Slots: slotsOf(values[i])})
	}

	encoded, err := json.Marshal(slots)
	if err != nil {
		return nil, err
	}

	out := p.Clone()
	out[SlotsField] = encoded
	return out, nil
}

// slotsOf returns the "slots" list of a date entry, or [] when the entry is
// not an object or has no usable slots.
func slotsOf(raw json.RawMessage) json.RawMessage {
	var day map[string]json.RawMessage
	if err := json.Unmarshal(raw, &day); err != nil || day == nil {
		return emptySlots
	}
	s, ok := day["slots"]
	if !ok || bytes.Equal(bytes.TrimSpace(s), []byte("null")) {
		return emptySlots
	}
	return s
}

// isPositional reports whether the object already has the Date1..DateN shape.
func isPositional(keys []string, values []json.RawMessage) bool {
	if len(keys) == 0 {
		return false
	}
	for i, key := range keys {
		if !positionalKey.MatchString(key) {
			return false
		}
		var day map[string]json.RawMessage
		if err := json.Unmarshal(values[i], &day); err != nil {
			return false
		}
		if _, ok := day["date"]; !ok {
			return false
		}
	}
	return true
}

// orderedObject reads a JSON object preserving key order. isObject is false
// for any other JSON value. A repeated key keeps its first position and its
// last value, matching how the object decodes into a map.
func orderedObject(raw json.RawMessage) (keys []string, values []json.RawMessage, isObject bool, err error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return nil, nil, false, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, false, nil
	}

	index := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, true, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, true, fmt.Errorf("unexpected token %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, true, err
		}

		if i, seen := index[key]; seen {
			values[i] = value
			continue
		}
		index[key] = len(keys)
		keys = append(keys, key)
		values = append(values, value)
	}

	if _, err := dec.Token(); err != nil {
		return nil, nil, true, err
	}
	return keys, values, true, nil
}
