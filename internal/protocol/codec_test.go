package protocol

import (
	"testing"
)

func TestCodecFor(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"", "json", false},
		{"json", "json", false},
		{"cbor", "cbor", false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		c, err := CodecFor(tt.name)
		if tt.wantErr {
			if err == nil {
				t.Errorf("CodecFor(%q) expected error", tt.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("CodecFor(%q) failed: %v", tt.name, err)
		}
		if c.Name() != tt.want {
			t.Errorf("CodecFor(%q) = %s, want %s", tt.name, c.Name(), tt.want)
		}
	}
}

func TestJSONFrameShapes(t *testing.T) {
	tests := []struct {
		frame Frame
		want  string
	}{
		{Pong(), `{"type":"PONG"}`},
		{Error("User rejected the action"), `{"type":"MACI_ERROR","payload":"User rejected the action"}`},
		{Response([]string{"a"}), `{"type":"MACI_RESPONSE","payload":{"success":true,"data":["a"]}}`},
	}

	for _, tt := range tests {
		got, err := JSON.Marshal(tt.frame)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("got %s, want %s", got, tt.want)
		}
	}
}

func TestDecodeRequest(t *testing.T) {
	for _, codec := range []Codec{JSON, CBOR} {
		t.Run(codec.Name(), func(t *testing.T) {
			in := Frame{Type: TypeRequest, Payload: map[string]any{
				"action":    "signMessage",
				"publicKey": "pk",
				"message":   "vote:yes",
				"metadata":  map[string]any{"context": map[string]any{"round": 1}},
			}}

			data, err := codec.Marshal(in)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}

			var out Frame
			if err := codec.Unmarshal(data, &out); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if out.Type != TypeRequest {
				t.Errorf("type = %s", out.Type)
			}

			payload, ok := out.Payload.(map[string]any)
			if !ok {
				t.Fatalf("payload decoded as %T", out.Payload)
			}
			if payload["action"] != "signMessage" || payload["message"] != "vote:yes" {
				t.Errorf("unexpected payload %+v", payload)
			}
			if _, ok := payload["metadata"].(map[string]any); !ok {
				t.Errorf("metadata decoded as %T", payload["metadata"])
			}
		})
	}
}
