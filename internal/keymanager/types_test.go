package keymanager

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesmerverse/maci-keyvault/internal/protocol"
)

func TestSignedBytes_ExactEncoding(t *testing.T) {
	md := Metadata{
		"extra":      "x",
		"context":    map[string]any{"timestamp": 1},
		"userAction": map[string]any{"type": "vote"},
	}

	signed, err := SignedBytes("vote:<yes> & more", md)
	require.NoError(t, err)
	assert.Equal(t,
		`{"message":"vote:<yes> & more","metadata":{"userAction":{"type":"vote"},"context":{"timestamp":1}}}`,
		string(signed))
}

func TestSignedBytes_MemberOrder(t *testing.T) {
	md := Metadata{
		"context":      map[string]any{"timestamp": 5},
		"userAction":   map[string]any{"type": "delegate"},
		"proposalInfo": map[string]any{"id": "p1"},
	}

	signed, err := SignedBytes("m", md)
	require.NoError(t, err)
	assert.Equal(t,
		`{"message":"m","metadata":{"proposalInfo":{"id":"p1"},"userAction":{"type":"delegate"},"context":{"timestamp":5}}}`,
		string(signed))

	signed, err = SignedBytes("m", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"message":"m","metadata":{}}`, string(signed))
}

func TestWithTimestamp_DropsUnsignedMembers(t *testing.T) {
	now := time.UnixMilli(42)
	md := Metadata{"extra": "x", "userAction": map[string]any{"type": "vote"}}

	out := md.withTimestamp(now)
	assert.NotContains(t, out, "extra")
	assert.Equal(t, map[string]any{"type": "vote"}, out[MetaUserAction])
	assert.Equal(t, int64(42), out[MetaContext].(map[string]any)["timestamp"])
	assert.Contains(t, md, "extra")
}

func TestWithTimestamp_ZeroFromEitherCodec(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	frame := map[string]any{"context": map[string]any{"timestamp": 0, "round": 2}}

	for _, codec := range []protocol.Codec{protocol.JSON, protocol.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := codec.Marshal(frame)
			require.NoError(t, err)

			var decoded map[string]any
			require.NoError(t, codec.Unmarshal(data, &decoded))

			out := Metadata(decoded).withTimestamp(now)
			ctx := out[MetaContext].(map[string]any)
			assert.Equal(t, int64(1700000000123), ctx["timestamp"])
		})
	}
}

func TestHasTimestamp(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want bool
	}{
		{"nil", nil, false},
		{"float zero", float64(0), false},
		{"float", float64(1), true},
		{"int64 zero", int64(0), false},
		{"uint64 zero", uint64(0), false},
		{"uint64", uint64(7), true},
		{"empty string", "", false},
		{"string", "2024-01-01", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hasTimestamp(tt.v))
		})
	}
}
