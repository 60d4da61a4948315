// Package router classifies inbound requests, sends privileged ones through
// the approval broker and executes them against the key manager. Every
// request gets exactly one reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/broker"
	"github.com/mesmerverse/maci-keyvault/internal/keymanager"
	"github.com/mesmerverse/maci-keyvault/internal/keystore"
	"github.com/mesmerverse/maci-keyvault/internal/metrics"
	"github.com/mesmerverse/maci-keyvault/internal/protocol"
	"github.com/mesmerverse/maci-keyvault/internal/vaulterr"
)

const (
	msgRejected      = "User rejected the action"
	msgUnknownType   = "Unknown message type"
	msgUnknownAction = "Unknown action"
	msgInternal      = "Internal error"
	msgCancelled     = "Request cancelled"
)

// Keys is the key manager as seen by the router
type Keys interface {
	GenerateKeyPair(ctx context.Context) (*keystore.Record, error)
	ListKeyPairs(ctx context.Context) ([]keystore.Record, error)
	SignMessage(ctx context.Context, publicKey, message string, metadata keymanager.Metadata) (*keymanager.Signature, error)
	DiscardKeyPair(ctx context.Context, publicKey string) error
	DeleteKeyPair(ctx context.Context, publicKey string) error
	RenameKeyPair(ctx context.Context, publicKey, name string) error
	RecoverKeyPair(ctx context.Context) (string, error)
}

// Passwords sets the master password
type Passwords interface {
	SetPassword(ctx context.Context, password string) error
	ClearPassword(ctx context.Context) error
}

// Router dispatches external frames and internal requests
type Router struct {
	keys      Keys
	passwords Passwords
	broker    *broker.Broker
	metrics   *metrics.Metrics
}

// New creates a router. m may be nil.
func New(keys Keys, passwords Passwords, b *broker.Broker, m *metrics.Metrics) *Router {
	return &Router{
		keys:      keys,
		passwords: passwords,
		broker:    b,
		metrics:   m,
	}
}

// HandleExternal answers a frame from an untrusted caller. Privileged actions
// block until approved, rejected, expired or until ctx ends.
func (r *Router) HandleExternal(ctx context.Context, f protocol.Frame) (reply protocol.Frame) {
	start := time.Now()
	action := labelUnknown
	var err error

	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("panic", fmt.Sprint(p)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic handling external request")
			err = fmt.Errorf("panic: %v", p)
			reply = protocol.Error(msgInternal)
		}
		r.metrics.RecordRequest(metrics.CallerExternal, action, err, time.Since(start))
	}()

	switch f.Type {
	case protocol.TypePing:
		action = string(protocol.TypePing)
		return protocol.Pong()
	case protocol.TypeRequest:
	default:
		err = vaulterr.Validation("router.external", msgUnknownType)
		return protocol.Error(msgUnknownType)
	}

	act, err := ParseAction(f.Payload)
	if err != nil {
		action = "invalid"
		return protocol.Error(message(err))
	}
	action = act.Name()

	data, err := r.run(ctx, act, true)
	if err != nil {
		log.Warn().Err(err).Str("action", action).Msg("External request failed")
		return protocol.Error(message(err))
	}
	return protocol.Response(data)
}

// InternalRequest is a request from a trusted in-process caller, such as the
// approval surface. Fields not used by Action are ignored.
type InternalRequest struct {
	Action    string              `json:"action"`
	PublicKey string              `json:"publicKey,omitempty"`
	Message   string              `json:"message,omitempty"`
	Metadata  keymanager.Metadata `json:"metadata,omitempty"`
	RequestID string              `json:"requestId,omitempty"`
	Approved  bool                `json:"approved,omitempty"`
	Name      string              `json:"name,omitempty"`
	Password  string              `json:"password,omitempty"`
}

// HandleInternal answers a trusted request. Internal callers are not
// approval-gated.
func (r *Router) HandleInternal(ctx context.Context, req InternalRequest) (res protocol.Result) {
	start := time.Now()
	var err error

	defer func() {
		if p := recover(); p != nil {
			log.Error().
				Str("panic", fmt.Sprint(p)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic handling internal request")
			err = fmt.Errorf("panic: %v", p)
			res = protocol.Fail(msgInternal)
		}
		r.metrics.RecordRequest(metrics.CallerInternal, internalLabel(req.Action), err, time.Since(start))
	}()

	var data any
	data, err = r.internal(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("action", req.Action).Msg("Internal request failed")
		return protocol.Fail(message(err))
	}
	return protocol.OK(data)
}

func (r *Router) internal(ctx context.Context, req InternalRequest) (any, error) {
	switch req.Action {
	case "generateKeypair":
		return r.run(ctx, GenerateKeypair{}, false)

	case "signMessage":
		if req.PublicKey == "" {
			return nil, vaulterr.Validation("router.internal", "publicKey is required")
		}
		return r.run(ctx, SignMessage{PublicKey: req.PublicKey, Message: req.Message, Metadata: req.Metadata}, false)

	case "listKeys":
		return r.run(ctx, ListKeys{}, false)

	case "getPendingRequests":
		return r.broker.List(), nil

	case "resolveRequest":
		if err := r.broker.Resolve(req.RequestID, req.Approved); err != nil {
			return nil, err
		}
		return nil, nil

	case "discardKeyPair":
		return nil, r.keys.DiscardKeyPair(ctx, req.PublicKey)

	case "deleteKeyPair":
		return nil, r.keys.DeleteKeyPair(ctx, req.PublicKey)

	case "renameKeyPair":
		return nil, r.keys.RenameKeyPair(ctx, req.PublicKey, req.Name)

	case "recoverKeyPair":
		pk, err := r.keys.RecoverKeyPair(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]string{"publicKey": pk}, nil

	case "setPassword":
		return nil, r.passwords.SetPassword(ctx, req.Password)

	case "clearPassword":
		return nil, r.passwords.ClearPassword(ctx)

	default:
		return nil, vaulterr.Validation("router.internal", msgUnknownAction)
	}
}

// run executes act, first waiting for approval when gated and act is privileged
func (r *Router) run(ctx context.Context, act Action, gated bool) (any, error) {
	if gated && act.Privileged() {
		ticket, err := r.broker.Enqueue(broker.Action(act.Name()), act)
		if err != nil {
			return nil, err
		}

		decision, err := ticket.Wait(ctx)
		r.metrics.RecordDecision(string(decision.State))
		if err != nil {
			return nil, err
		}
		if !decision.Approved() {
			return nil, vaulterr.New(vaulterr.KindRejected, "router.approve", msgRejected)
		}
	}

	switch a := act.(type) {
	case GenerateKeypair:
		return r.keys.GenerateKeyPair(ctx)
	case SignMessage:
		return r.keys.SignMessage(ctx, a.PublicKey, a.Message, a.Metadata)
	case ListKeys:
		return r.keys.ListKeyPairs(ctx)
	default:
		return nil, vaulterr.Validation("router.run", msgUnknownAction)
	}
}

// labelUnknown replaces caller-chosen names in metric labels
const labelUnknown = "unknown"

var internalActions = map[string]bool{
	"generateKeypair":    true,
	"signMessage":        true,
	"listKeys":           true,
	"getPendingRequests": true,
	"resolveRequest":     true,
	"discardKeyPair":     true,
	"deleteKeyPair":      true,
	"renameKeyPair":      true,
	"recoverKeyPair":     true,
	"setPassword":        true,
	"clearPassword":      true,
}

func internalLabel(action string) string {
	if internalActions[action] {
		return action
	}
	return labelUnknown
}

func message(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return msgCancelled
	}
	return vaulterr.Message(err)
}
