package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantErr    error
		wantAnyErr bool
		wantLen    int
	}{
		{name: "object", input: `{"a":1,"b":"x"}`, wantLen: 2},
		{name: "empty object", input: `  {}  `, wantLen: 0},
		{name: "array", input: `[1,2]`, wantErr: ErrNotObject},
		{name: "null", input: `null`, wantErr: ErrNotObject},
		{name: "empty body", input: ``, wantErr: ErrNotObject},
		{name: "truncated", input: `{"a":`, wantAnyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode([]byte(tt.input))
			switch {
			case tt.wantAnyErr:
				assert.Error(t, err)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				require.NoError(t, err)
				assert.Len(t, p, tt.wantLen)
			}
		})
	}
}

func TestWithRequestID(t *testing.T) {
	p, err := Decode([]byte(`{"message":"hi","requestId":"caller-supplied"}`))
	require.NoError(t, err)

	tagged := p.WithRequestID("abc-123")

	assert.Equal(t, `"abc-123"`, string(tagged[RequestIDField]))
	assert.Equal(t, `"caller-supplied"`, string(p[RequestIDField]), "input payload must not change")
	assert.Equal(t, `"hi"`, string(tagged["message"]))
}

func TestSplitRequestID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantID  string
		wantErr bool
	}{
		{name: "string id", input: `{"requestId":"r-1","x":1}`, wantID: "r-1"},
		{name: "numeric id", input: `{"requestId":1718000000123,"x":1}`, wantID: "1718000000123"},
		{name: "padded id", input: `{"requestId":"  r-2  "}`, wantID: "r-2"},
		{name: "missing", input: `{"x":1}`, wantErr: true},
		{name: "empty", input: `{"requestId":""}`, wantErr: true},
		{name: "null", input: `{"requestId":null}`, wantErr: true},
		{name: "object", input: `{"requestId":{"id":"r"}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode([]byte(tt.input))
			require.NoError(t, err)

			id, rest, err := p.SplitRequestID()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMissingRequestID)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.wantID, id)
			assert.NotContains(t, rest, RequestIDField)
			assert.Contains(t, p, RequestIDField, "input payload should keep its requestId")
		})
	}
}

func TestPayloadMarshalKeepsRawValues(t *testing.T) {
	p, err := Decode([]byte(`{"n":1.50,"nested":{"b":2,"a":1}}`))
	require.NoError(t, err)

	out, err := json.Marshal(p)
	require.NoError(t, err)

	assert.Equal(t, `{"n":1.50,"nested":{"b":2,"a":1}}`, string(out))
}
