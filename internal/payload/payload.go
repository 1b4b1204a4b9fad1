// Package payload holds the JSON object type passed between the proxy,
// the downstream webhook and the callback endpoint.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RequestIDField is the field that carries the correlation ID on both the
// forwarded request and the callback.
const RequestIDField = "requestId"

var (
	// ErrNotObject is returned when the body is valid JSON but not an object.
	ErrNotObject = errors.New("payload: body is not a JSON object")

	// ErrMissingRequestID is returned when a callback carries no usable requestId.
	ErrMissingRequestID = errors.New("payload: missing requestId")
)

// Payload is a JSON object whose field values are kept verbatim.
type Payload map[string]json.RawMessage

// Decode parses data as a JSON object.
func Decode(data []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var p Payload
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return p, nil
}

// Clone returns a shallow copy of p. Raw values are shared; they are never
// modified in place.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// WithRequestID returns a copy of p with requestId set to id, replacing any
// value the caller supplied.
func (p Payload) WithRequestID(id string) Payload {
	out := p.Clone()
	raw, _ := json.Marshal(id)
	out[RequestIDField] = raw
	return out
}

// SplitRequestID returns the requestId carried by p and a copy of p without
// that field. Numeric IDs are accepted and returned in their literal form.
func (p Payload) SplitRequestID() (string, Payload, error) {
	raw, ok := p[RequestIDField]
	if !ok {
		return "", nil, ErrMissingRequestID
	}

	id, err := parseID(raw)
	if err != nil {
		return "", nil, err
	}

	rest := p.Clone()
	delete(rest, RequestIDField)
	return id, rest, nil
}

func parseID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", ErrMissingRequestID
		}
		return s, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", ErrMissingRequestID
	}
	if n, ok := v.(json.Number); ok {
		return n.String(), nil
	}
	return "", ErrMissingRequestID
}
