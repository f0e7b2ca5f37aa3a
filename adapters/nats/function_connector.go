package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	natsgo "github.com/nats-io/nats.go"

	"github.com/codewandler/eventum-go/core/es"
)

const defaultFunctionTimeout = 10 * time.Second

type FunctionConnectorConfig struct {
	Connect   Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log       *slog.Logger // Log for diagnostics (optional)
	Functions Functions
	// Timeout bounds calls whose context has no deadline.
	Timeout time.Duration
}

// FunctionConnector is a journal connector that invokes remote journal
// functions via NATS request/reply. Any process running a [FunctionServer]
// for the same function names can answer.
type FunctionConnector struct {
	nc        *natsgo.Conn
	closeNc   closeFunc
	log       *slog.Logger
	functions Functions
	timeout   time.Duration
}

func NewFunctionConnector(cfg FunctionConnectorConfig) (*FunctionConnector, error) {
	if err := cfg.Functions.validate(); err != nil {
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultFunctionTimeout
	}

	nc, closeNc, err := connectOrDefault(cfg.Connect)()
	if err != nil {
		return nil, err
	}

	return &FunctionConnector{
		nc:        nc,
		closeNc:   closeNc,
		log:       log.With(slog.String("connector", "functions")),
		functions: cfg.Functions,
		timeout:   timeout,
	}, nil
}

func (c *FunctionConnector) Close() error {
	c.closeNc()
	return nil
}

func (c *FunctionConnector) GetJournal(ctx context.Context, aggregateID string) (*es.Journal, error) {
	res, err := c.invoke(ctx, c.functions.GetJournal, getJournalRequest{AggregateID: aggregateID})
	if err != nil {
		return nil, err
	}

	switch res.Type {
	case ResponseError:
		if res.ErrorType == ErrorNotFound {
			return nil, fmt.Errorf("%w: %s", es.ErrJournalNotFound, aggregateID)
		}
		return nil, c.remoteError(c.functions.GetJournal, res)
	case ResponseOK:
		var j es.Journal
		if err := json.Unmarshal(res.Payload, &j); err != nil {
			return nil, fmt.Errorf("decode journal of %s: %w", aggregateID, err)
		}
		return &j, nil
	default:
		return nil, unknownResponseType(res.Type)
	}
}

func (c *FunctionConnector) SaveEvents(ctx context.Context, inputs []es.EventInput) ([]es.Event, error) {
	if _, err := es.ValidateEventInputs(inputs); err != nil {
		return nil, err
	}

	res, err := c.invoke(ctx, c.functions.SaveEvents, inputs)
	if err != nil {
		return nil, err
	}

	switch res.Type {
	case ResponseError:
		return nil, c.remoteError(c.functions.SaveEvents, res)
	case ResponseOK:
		var events []es.Event
		if err := json.Unmarshal(res.Payload, &events); err != nil {
			return nil, fmt.Errorf("decode saved events: %w", err)
		}
		return events, nil
	default:
		return nil, unknownResponseType(res.Type)
	}
}

func (c *FunctionConnector) SaveSnapshot(ctx context.Context, input es.SnapshotInput) error {
	if err := input.Validate(); err != nil {
		return err
	}

	res, err := c.invoke(ctx, c.functions.SaveSnapshot, input)
	if err != nil {
		return err
	}

	switch res.Type {
	case ResponseError:
		return c.remoteError(c.functions.SaveSnapshot, res)
	case ResponseOK:
		return nil
	default:
		return unknownResponseType(res.Type)
	}
}

func (c *FunctionConnector) invoke(ctx context.Context, function string, request any) (*response, error) {
	data, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", function, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	startAt := time.Now()
	msg, err := c.nc.RequestWithContext(ctx, function, data)
	if err != nil {
		if errors.Is(err, natsgo.ErrNoResponders) {
			return nil, fmt.Errorf("invoke %s: no function server is listening: %w", function, err)
		}
		return nil, fmt.Errorf("invoke %s: %w", function, err)
	}

	var res response
	if err := json.Unmarshal(msg.Data, &res); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", function, err)
	}

	c.log.Debug(
		"invoked",
		slog.String("function", function),
		slog.String("type", string(res.Type)),
		slog.Duration("duration", time.Since(startAt)),
	)
	return &res, nil
}

func (c *FunctionConnector) remoteError(function string, res *response) error {
	err := &RemoteError{Function: function, ErrorType: res.ErrorType, Message: res.Message}
	if res.ErrorType == ErrorConcurrencyConflict {
		return fmt.Errorf("%w: %w", es.ErrConcurrencyConflict, err)
	}
	return err
}

func unknownResponseType(t ResponseType) error {
	return fmt.Errorf("%w: Unknown response type %s from server", ErrUnknownResponseType, t)
}

var (
	_ es.JournalConnector = (*FunctionConnector)(nil)
	_ es.Closer           = (*FunctionConnector)(nil)
)
