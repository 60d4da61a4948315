package natsbus

import (
	"context"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesmerverse/maci-keyvault/internal/protocol"
	"github.com/mesmerverse/maci-keyvault/internal/ratelimit"
	"github.com/mesmerverse/maci-keyvault/internal/router"
)

func TestSubjects(t *testing.T) {
	s := Subjects{Prefix: "keyvault", Principal: "uid-1"}
	assert.Equal(t, "keyvault.uid-1.request", s.Request())
	assert.Equal(t, "keyvault.uid-1.internal", s.Internal())
	assert.Equal(t, "keyvault.uid-1.approvals", s.Approvals())
}

func TestParseSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    Subjects
		kind    string
		wantErr bool
	}{
		{"keyvault.uid-1.request", Subjects{"keyvault", "uid-1"}, KindRequest, false},
		{"prod.eu.keyvault.uid-2.approvals", Subjects{"prod.eu.keyvault", "uid-2"}, KindApprovals, false},
		{"keyvault.uid-1.forApp", Subjects{}, "", true},
		{"uid-1.request", Subjects{}, "", true},
		{".uid-1.internal", Subjects{}, "", true},
	}

	for _, tt := range tests {
		got, kind, err := ParseSubject(tt.subject)
		if tt.wantErr {
			assert.Error(t, err, tt.subject)
			continue
		}
		require.NoError(t, err, tt.subject)
		assert.Equal(t, tt.want, got)
		assert.Equal(t, tt.kind, kind)
	}
}

func TestCallerID(t *testing.T) {
	msg := &nats.Msg{Reply: "_INBOX.abc123.7"}
	assert.Equal(t, "_INBOX.abc123", callerID(msg))

	msg.Header = nats.Header{}
	msg.Header.Set(CallerHeader, "voting-app")
	assert.Equal(t, "voting-app", callerID(msg))
}

type fakeHandler struct {
	frames   []protocol.Frame
	requests []router.InternalRequest
}

func (f *fakeHandler) HandleExternal(ctx context.Context, frame protocol.Frame) protocol.Frame {
	f.frames = append(f.frames, frame)
	if frame.Type == protocol.TypePing {
		return protocol.Pong()
	}
	return protocol.Response("ok")
}

func (f *fakeHandler) HandleInternal(ctx context.Context, req router.InternalRequest) protocol.Result {
	f.requests = append(f.requests, req)
	return protocol.OK(req.Action)
}

func TestServeExternal(t *testing.T) {
	for _, codec := range []protocol.Codec{protocol.JSON, protocol.CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			h := &fakeHandler{}
			s := NewServer(nil, Subjects{"keyvault", "uid-1"}, h, codec, nil, nil)

			in, err := codec.Marshal(protocol.Frame{Type: protocol.TypePing})
			require.NoError(t, err)

			var reply protocol.Frame
			require.NoError(t, codec.Unmarshal(s.serveExternal(context.Background(), in, "c"), &reply))
			assert.Equal(t, protocol.TypePong, reply.Type)
			assert.Len(t, h.frames, 1)
		})
	}
}

func TestServeExternal_Malformed(t *testing.T) {
	h := &fakeHandler{}
	s := NewServer(nil, Subjects{"keyvault", "uid-1"}, h, protocol.JSON, nil, nil)

	out := s.serveExternal(context.Background(), []byte("{not json"), "c")
	assert.JSONEq(t, `{"type":"MACI_ERROR","payload":"Malformed frame"}`, string(out))
	assert.Empty(t, h.frames)
}

func TestServeExternal_RateLimited(t *testing.T) {
	h := &fakeHandler{}
	limiter := ratelimit.New(&ratelimit.Config{Enabled: true, RequestsPerMinute: 1, Burst: 1})
	s := NewServer(nil, Subjects{"keyvault", "uid-1"}, h, protocol.JSON, limiter, nil)
	ping := []byte(`{"type":"PING"}`)

	assert.JSONEq(t, `{"type":"PONG"}`, string(s.serveExternal(context.Background(), ping, "a")))
	assert.JSONEq(t, `{"type":"MACI_ERROR","payload":"Rate limit exceeded"}`,
		string(s.serveExternal(context.Background(), ping, "a")))
	assert.JSONEq(t, `{"type":"PONG"}`, string(s.serveExternal(context.Background(), ping, "b")))
	assert.Len(t, h.frames, 2)
}

func TestServeInternal(t *testing.T) {
	h := &fakeHandler{}
	s := NewServer(nil, Subjects{"keyvault", "uid-1"}, h, protocol.JSON, nil, nil)

	out := s.serveInternal(context.Background(), []byte(`{"action":"resolveRequest","requestId":"r1","approved":true}`), "c")
	assert.JSONEq(t, `{"success":true,"data":"resolveRequest"}`, string(out))
	require.Len(t, h.requests, 1)
	assert.Equal(t, "r1", h.requests[0].RequestID)
	assert.True(t, h.requests[0].Approved)

	out = s.serveInternal(context.Background(), []byte(`[]`), "c")
	assert.JSONEq(t, `{"success":false,"error":"Malformed request"}`, string(out))
}
