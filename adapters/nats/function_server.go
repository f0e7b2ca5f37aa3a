package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/eventum-go/core/es"
)

var ErrServerClosed = errors.New("function server closed")

type FunctionServerConfig struct {
	Connect   Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log       *slog.Logger // Log for diagnostics (optional)
	Functions Functions
	// Backend answers the calls.
	Backend es.JournalConnector
	// QueueGroup spreads calls over all servers of the group. Defaults to
	// "eventum".
	QueueGroup string
}

// FunctionServer serves the journal functions on NATS for a backing
// connector. It is the remote side of [FunctionConnector].
type FunctionServer struct {
	id        string
	nc        *natsgo.Conn
	closeNc   closeFunc
	log       *slog.Logger
	functions Functions
	backend   es.JournalConnector
	queue     string

	mu     sync.Mutex
	subs   []*natsgo.Subscription
	closed atomic.Bool
}

func NewFunctionServer(cfg FunctionServerConfig) (*FunctionServer, error) {
	if err := cfg.Functions.validate(); err != nil {
		return nil, err
	}
	if cfg.Backend == nil {
		return nil, errors.New("backend is required")
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	queue := cfg.QueueGroup
	if queue == "" {
		queue = "eventum"
	}

	nc, closeNc, err := connectOrDefault(cfg.Connect)()
	if err != nil {
		return nil, err
	}

	id := gonanoid.Must()
	return &FunctionServer{
		id:        id,
		nc:        nc,
		closeNc:   closeNc,
		log:       log.With(slog.String("function_server", id)),
		functions: cfg.Functions,
		backend:   cfg.Backend,
		queue:     queue,
	}, nil
}

func (s *FunctionServer) ID() string { return s.id }

// Start subscribes to the three functions. Handlers run with ctx, and the
// subscriptions end when ctx is done or the server is closed.
func (s *FunctionServer) Start(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	handlers := map[string]func(context.Context, []byte) response{
		s.functions.GetJournal:   s.getJournal,
		s.functions.SaveEvents:   s.saveEvents,
		s.functions.SaveSnapshot: s.saveSnapshot,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for subject, h := range handlers {
		sub, err := s.nc.QueueSubscribe(subject, s.queue, s.handle(ctx, subject, h))
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	if err := s.nc.Flush(); err != nil {
		return err
	}

	context.AfterFunc(ctx, func() { _ = s.Close() })

	s.log.Info("serving journal functions",
		slog.String("get_journal", s.functions.GetJournal),
		slog.String("save_events", s.functions.SaveEvents),
		slog.String("save_snapshot", s.functions.SaveSnapshot),
	)
	return nil
}

func (s *FunctionServer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.mu.Lock()
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
	s.subs = nil
	s.mu.Unlock()
	s.closeNc()
	s.log.Debug("closed")
	return nil
}

func (s *FunctionServer) handle(ctx context.Context, function string, h func(context.Context, []byte) response) natsgo.MsgHandler {
	return func(msg *natsgo.Msg) {
		res := h(ctx, msg.Data)
		if res.Type == ResponseError {
			s.log.Warn(
				"function failed",
				slog.String("function", function),
				slog.String("error_type", string(res.ErrorType)),
				slog.String("message", res.Message),
			)
		}

		data, err := json.Marshal(res)
		if err != nil {
			s.log.Error("failed to encode response", slog.String("function", function), slog.Any("error", err))
			return
		}
		if err := msg.Respond(data); err != nil {
			s.log.Error("failed to respond", slog.String("function", function), slog.Any("error", err))
		}
	}
}

func (s *FunctionServer) getJournal(ctx context.Context, data []byte) response {
	var req getJournalRequest
	if err := json.Unmarshal(data, &req); err != nil || req.AggregateID == "" {
		return errorResponse(ErrorBadRequest, "aggregateId is required")
	}
	j, err := s.backend.GetJournal(ctx, req.AggregateID)
	if err != nil {
		return errorResponseFor(err)
	}
	return okResponse(j)
}

func (s *FunctionServer) saveEvents(ctx context.Context, data []byte) response {
	var inputs []es.EventInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return errorResponse(ErrorBadRequest, err.Error())
	}
	if _, err := es.ValidateEventInputs(inputs); err != nil {
		return errorResponse(ErrorBadRequest, err.Error())
	}
	events, err := s.backend.SaveEvents(ctx, inputs)
	if err != nil {
		return errorResponseFor(err)
	}
	return okResponse(events)
}

func (s *FunctionServer) saveSnapshot(ctx context.Context, data []byte) response {
	var input es.SnapshotInput
	if err := json.Unmarshal(data, &input); err != nil {
		return errorResponse(ErrorBadRequest, err.Error())
	}
	if err := input.Validate(); err != nil {
		return errorResponse(ErrorBadRequest, err.Error())
	}
	if err := s.backend.SaveSnapshot(ctx, input); err != nil {
		return errorResponseFor(err)
	}
	return response{Type: ResponseOK}
}

func okResponse(payload any) response {
	data, err := json.Marshal(payload)
	if err != nil {
		return errorResponse(ErrorInternal, err.Error())
	}
	return response{Type: ResponseOK, Payload: data}
}

func errorResponse(t ErrorType, message string) response {
	return response{Type: ResponseError, ErrorType: t, Message: message}
}

func errorResponseFor(err error) response {
	switch {
	case errors.Is(err, es.ErrJournalNotFound):
		return errorResponse(ErrorNotFound, err.Error())
	case errors.Is(err, es.ErrConcurrencyConflict):
		return errorResponse(ErrorConcurrencyConflict, err.Error())
	default:
		return errorResponse(ErrorInternal, err.Error())
	}
}
