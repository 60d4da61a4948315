package natsbus

import (
	"context"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mesmerverse/maci-keyvault/internal/broker"
	"github.com/mesmerverse/maci-keyvault/internal/metrics"
	"github.com/mesmerverse/maci-keyvault/internal/protocol"
	"github.com/mesmerverse/maci-keyvault/internal/ratelimit"
	"github.com/mesmerverse/maci-keyvault/internal/router"
)

// CallerHeader optionally identifies the caller for rate limiting
const CallerHeader = "Keyvault-Caller"

// Handler answers frames and internal requests
type Handler interface {
	HandleExternal(ctx context.Context, f protocol.Frame) protocol.Frame
	HandleInternal(ctx context.Context, req router.InternalRequest) protocol.Result
}

// Server serves a principal's subjects
type Server struct {
	client   *Client
	subjects Subjects
	handler  Handler
	codec    protocol.Codec
	limiter  *ratelimit.Limiter
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server. limiter and m may be nil.
func NewServer(client *Client, subjects Subjects, handler Handler, codec protocol.Codec, limiter *ratelimit.Limiter, m *metrics.Metrics) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		client:   client,
		subjects: subjects,
		handler:  handler,
		codec:    codec,
		limiter:  limiter,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the request and internal subjects
func (s *Server) Start() error {
	if err := s.client.Subscribe(s.subjects.Request(), s.dispatch(s.serveExternal)); err != nil {
		return err
	}
	if err := s.client.Subscribe(s.subjects.Internal(), s.dispatch(s.serveInternal)); err != nil {
		return err
	}

	log.Info().
		Str("request", s.subjects.Request()).
		Str("internal", s.subjects.Internal()).
		Str("codec", s.codec.Name()).
		Msg("Serving vault subjects")
	return nil
}

// Stop cancels in-flight requests and waits for their replies to be sent
func (s *Server) Stop() {
	s.cancel()
	s.wg.Wait()
}

// NotifyApproval announces a new approval request; it is a broker.Notifier.
func (s *Server) NotifyApproval(req broker.Request) {
	if s.client == nil {
		return
	}

	data, err := s.codec.Marshal(req)
	if err != nil {
		log.Error().Err(err).Str("request_id", req.ID).Msg("Failed to encode approval notification")
		return
	}
	if err := s.client.Publish(s.subjects.Approvals(), data); err != nil {
		log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to publish approval notification")
	}
}

// dispatch handles each message in its own goroutine, since approval waits
// can take arbitrarily long.
func (s *Server) dispatch(serve func(ctx context.Context, data []byte, caller string) []byte) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if msg.Reply == "" {
			log.Warn().Str("subject", msg.Subject).Msg("Dropping request without reply subject")
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()

			reply := serve(s.ctx, msg.Data, callerID(msg))
			if err := msg.Respond(reply); err != nil {
				log.Error().Err(err).Str("subject", msg.Subject).Msg("Failed to send reply")
			}
		}()
	}
}

func (s *Server) serveExternal(ctx context.Context, data []byte, caller string) []byte {
	var reply protocol.Frame

	var f protocol.Frame
	switch {
	case !s.limiter.Allow(caller):
		s.metrics.RecordRateLimited()
		log.Warn().Str("caller", caller).Msg("Caller rate limited")
		reply = protocol.Error("Rate limit exceeded")
	case s.codec.Unmarshal(data, &f) != nil:
		reply = protocol.Error("Malformed frame")
	default:
		reply = s.handler.HandleExternal(ctx, f)
	}

	return s.encode(reply)
}

func (s *Server) serveInternal(ctx context.Context, data []byte, caller string) []byte {
	var req router.InternalRequest
	if err := s.codec.Unmarshal(data, &req); err != nil {
		return s.encode(protocol.Fail("Malformed request"))
	}
	return s.encode(s.handler.HandleInternal(ctx, req))
}

func (s *Server) encode(v any) []byte {
	data, err := s.codec.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode reply")
		// Fall back to a reply the caller can always decode.
		data, _ = s.codec.Marshal(protocol.Error("Internal error"))
	}
	return data
}

// callerID identifies the sender: the caller header when present, otherwise
// the connection part of its reply inbox (_INBOX.<conn>.<token>).
func callerID(msg *nats.Msg) string {
	if msg.Header != nil {
		if id := msg.Header.Get(CallerHeader); id != "" {
			return id
		}
	}
	parts := strings.SplitN(msg.Reply, ".", 3)
	if len(parts) >= 2 {
		return parts[0] + "." + parts[1]
	}
	return msg.Reply
}
