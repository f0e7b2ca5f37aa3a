package nats

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codewandler/eventum-go/core/config"
)

// ResponseType is the outcome of a journal function call.
type ResponseType string

const (
	ResponseOK    ResponseType = "OK"
	ResponseError ResponseType = "ERROR"
)

// ErrorType classifies an ERROR response.
type ErrorType string

const (
	ErrorNotFound            ErrorType = "NotFound"
	ErrorConcurrencyConflict ErrorType = "ConcurrencyConflict"
	ErrorBadRequest          ErrorType = "BadRequest"
	ErrorInternal            ErrorType = "Internal"
)

var ErrUnknownResponseType = errors.New("unknown response type")

// response is the envelope every journal function replies with.
type response struct {
	Type      ResponseType    `json:"type"`
	ErrorType ErrorType       `json:"errorType,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type getJournalRequest struct {
	AggregateID string `json:"aggregateId"`
}

// RemoteError is an ERROR response of a journal function.
type RemoteError struct {
	Function  string
	ErrorType ErrorType
	Message   string
}

func (e *RemoteError) Error() string {
	if e.ErrorType == "" {
		return fmt.Sprintf("%s: %s", e.Function, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Function, e.ErrorType, e.Message)
}

// Functions are the subjects of the three journal functions.
type Functions struct {
	GetJournal   string
	SaveEvents   string
	SaveSnapshot string
}

// FunctionsFromConfig names the functions "<serviceName>-<stage>-<functionName>".
func FunctionsFromConfig(cfg config.Config) Functions {
	return Functions{
		GetJournal:   cfg.FunctionName(cfg.Functions.GetJournal),
		SaveEvents:   cfg.FunctionName(cfg.Functions.SaveEvents),
		SaveSnapshot: cfg.FunctionName(cfg.Functions.SaveSnapshot),
	}
}

func (f Functions) validate() error {
	if f.GetJournal == "" || f.SaveEvents == "" || f.SaveSnapshot == "" {
		return errors.New("all function names are required")
	}
	return nil
}
