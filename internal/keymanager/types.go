package keymanager

import (
	"bytes"
	"encoding/json"
	"time"
)

// Metadata is the caller-supplied context signed alongside a message.
// Only proposalInfo, userAction and context are signed; other members are
// dropped before signing.
type Metadata map[string]any

// Signed metadata members, in signing order
const (
	MetaProposalInfo = "proposalInfo"
	MetaUserAction   = "userAction"
	MetaContext      = "context"
)

// Signature is the result of SignMessage
type Signature struct {
	Signature     string   `json:"signature"`     // base64 detached signature
	SignatureHash string   `json:"signatureHash"` // hex sha256 of the hex-encoded signature
	Metadata      Metadata `json:"metadata"`      // metadata as signed
}

// Signed returns a copy of md holding only the signed members
func (md Metadata) Signed() Metadata {
	out := Metadata{}
	for _, k := range []string{MetaProposalInfo, MetaUserAction, MetaContext} {
		if v, ok := md[k]; ok && v != nil {
			out[k] = v
		}
	}
	return out
}

// withTimestamp returns the signed members of md with a context that
// carries a timestamp. The caller's map is never modified.
func (md Metadata) withTimestamp(now time.Time) Metadata {
	out := md.Signed()

	ctx := map[string]any{}
	if existing, ok := md[MetaContext].(map[string]any); ok {
		for k, v := range existing {
			ctx[k] = v
		}
	}
	if !hasTimestamp(ctx["timestamp"]) {
		ctx["timestamp"] = now.UnixMilli()
	}
	out[MetaContext] = ctx
	return out
}

// hasTimestamp reports whether v is a usable timestamp. Zero and empty
// values count as missing whichever codec decoded them.
func hasTimestamp(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case float64:
		return t != 0
	case float32:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case int32:
		return t != 0
	case uint:
		return t != 0
	case uint64:
		return t != 0
	case uint32:
		return t != 0
	case json.Number:
		return t != "" && t != "0"
	case string:
		return t != ""
	case bool:
		return t
	default:
		return true
	}
}

// signedMetadata fixes the member order of the signed metadata object
type signedMetadata struct {
	ProposalInfo any `json:"proposalInfo,omitempty"`
	UserAction   any `json:"userAction,omitempty"`
	Context      any `json:"context,omitempty"`
}

// SignedBytes returns the exact bytes signed for message and metadata:
// {"message":...,"metadata":{"proposalInfo","userAction","context"}} with
// members in that order, absent ones omitted, and no HTML escaping.
func SignedBytes(message string, metadata Metadata) ([]byte, error) {
	payload := struct {
		Message  string         `json:"message"`
		Metadata signedMetadata `json:"metadata"`
	}{
		Message: message,
		Metadata: signedMetadata{
			ProposalInfo: metadata[MetaProposalInfo],
			UserAction:   metadata[MetaUserAction],
			Context:      metadata[MetaContext],
		},
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
