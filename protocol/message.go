// Package protocol defines the line-delimited JSON messages exchanged between
// a supervisor and its worker process.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/linanwx/supportbot/event"
)

// MessageType is the envelope tag.
type MessageType string

const (
	MsgStart                    MessageType = "start"
	MsgStop                     MessageType = "stop"
	MsgWorkerStatus             MessageType = "worker_status"
	MsgWorkerError              MessageType = "worker_error"
	MsgGetEventStateRequest     MessageType = "get_event_state_request"
	MsgGetEventStateResponse    MessageType = "get_event_state_response"
	MsgUpdateEventStateRequest  MessageType = "update_event_state_request"
	MsgUpdateEventStateResponse MessageType = "update_event_state_response"
)

// Worker statuses carried by worker_status.
const (
	StatusStarting  = "starting"
	StatusRunning   = "running"
	StatusCompleted = "completed"
)

// Known reports whether t is one of the eight protocol tags.
func (t MessageType) Known() bool {
	switch t {
	case MsgStart, MsgStop, MsgWorkerStatus, MsgWorkerError,
		MsgGetEventStateRequest, MsgGetEventStateResponse,
		MsgUpdateEventStateRequest, MsgUpdateEventStateResponse:
		return true
	}
	return false
}

// StartPayload seeds a worker run.
type StartPayload struct {
	InitialEventLog []event.Event `json:"initialEventLog"`
	ProviderAPIKey  string        `json:"providerApiKey,omitempty"`
}

// StopPayload asks a worker to exit.
type StopPayload struct {
	Reason string `json:"reason,omitempty"`
}

// WorkerStatusPayload reports worker progress.
type WorkerStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// WorkerErrorPayload reports a fatal worker error.
type WorkerErrorPayload struct {
	Error string `json:"error"`
}

// GetEventStateRequestPayload asks for the persisted event log.
type GetEventStateRequestPayload struct{}

// GetEventStateResponsePayload carries the persisted event log.
type GetEventStateResponsePayload struct {
	RequestID string        `json:"requestId"`
	EventLog  []event.Event `json:"eventLog"`
}

// UpdateEventStateRequestPayload asks the supervisor to persist one event.
type UpdateEventStateRequestPayload struct {
	Event event.Event `json:"event"`
}

// UpdateEventStateResponsePayload acknowledges a persist request.
type UpdateEventStateResponsePayload struct {
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

// Message is the protocol envelope. Exactly one payload field matching Type
// is set; messages with an unrecognized Type keep their data in Raw.
type Message struct {
	Type MessageType
	ID   string

	Start                    *StartPayload
	Stop                     *StopPayload
	WorkerStatus             *WorkerStatusPayload
	WorkerError              *WorkerErrorPayload
	GetEventStateRequest     *GetEventStateRequestPayload
	GetEventStateResponse    *GetEventStateResponsePayload
	UpdateEventStateRequest  *UpdateEventStateRequestPayload
	UpdateEventStateResponse *UpdateEventStateResponsePayload

	Raw json.RawMessage
}

type envelope struct {
	Type MessageType     `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

// payload returns the payload field selected by Type.
func (m Message) payload() any {
	switch m.Type {
	case MsgStart:
		return m.Start
	case MsgStop:
		return m.Stop
	case MsgWorkerStatus:
		return m.WorkerStatus
	case MsgWorkerError:
		return m.WorkerError
	case MsgGetEventStateRequest:
		return m.GetEventStateRequest
	case MsgGetEventStateResponse:
		return m.GetEventStateResponse
	case MsgUpdateEventStateRequest:
		return m.UpdateEventStateRequest
	case MsgUpdateEventStateResponse:
		return m.UpdateEventStateResponse
	}
	return nil
}

// MarshalJSON encodes the {type, id, data} envelope.
func (m Message) MarshalJSON() ([]byte, error) {
	env := envelope{Type: m.Type, ID: m.ID}

	p := m.payload()
	switch {
	case !m.Type.Known():
		env.Data = m.Raw
	case isNilPayload(p):
		env.Data = json.RawMessage(`{}`)
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal %s data: %w", m.Type, err)
		}
		env.Data = data
	}
	if len(env.Data) == 0 {
		env.Data = json.RawMessage(`{}`)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes the envelope and the payload for known types.
func (m *Message) UnmarshalJSON(b []byte) error {
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	*m = Message{Type: env.Type, ID: env.ID, Raw: env.Data}

	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = json.RawMessage(`{}`)
	}

	var err error
	switch env.Type {
	case MsgStart:
		m.Start = &StartPayload{}
		err = json.Unmarshal(data, m.Start)
	case MsgStop:
		m.Stop = &StopPayload{}
		err = json.Unmarshal(data, m.Stop)
	case MsgWorkerStatus:
		m.WorkerStatus = &WorkerStatusPayload{}
		err = json.Unmarshal(data, m.WorkerStatus)
	case MsgWorkerError:
		m.WorkerError = &WorkerErrorPayload{}
		err = json.Unmarshal(data, m.WorkerError)
	case MsgGetEventStateRequest:
		m.GetEventStateRequest = &GetEventStateRequestPayload{}
		err = json.Unmarshal(data, m.GetEventStateRequest)
	case MsgGetEventStateResponse:
		m.GetEventStateResponse = &GetEventStateResponsePayload{}
		err = json.Unmarshal(data, m.GetEventStateResponse)
	case MsgUpdateEventStateRequest:
		m.UpdateEventStateRequest = &UpdateEventStateRequestPayload{}
		err = json.Unmarshal(data, m.UpdateEventStateRequest)
	case MsgUpdateEventStateResponse:
		m.UpdateEventStateResponse = &UpdateEventStateResponsePayload{}
		err = json.Unmarshal(data, m.UpdateEventStateResponse)
	}
	if err != nil {
		return fmt.Errorf("decode %s data: %w", env.Type, err)
	}
	return nil
}

func isNilPayload(p any) bool {
	switch v := p.(type) {
	case nil:
		return true
	case *StartPayload:
		return v == nil
	case *StopPayload:
		return v == nil
	case *WorkerStatusPayload:
		return v == nil
	case *WorkerErrorPayload:
		return v == nil
	case *GetEventStateRequestPayload:
		return v == nil
	case *GetEventStateResponsePayload:
		return v == nil
	case *UpdateEventStateRequestPayload:
		return v == nil
	case *UpdateEventStateResponsePayload:
		return v == nil
	}
	return false
}

// Constructors for the common messages.

// NewStart builds a start message.
func NewStart(initial []event.Event, apiKey string) Message {
	if initial == nil {
		initial = []event.Event{}
	}
	return Message{Type: MsgStart, Start: &StartPayload{InitialEventLog: initial, ProviderAPIKey: apiKey}}
}

// NewStop builds a stop message.
func NewStop(reason string) Message {
	return Message{Type: MsgStop, Stop: &StopPayload{Reason: reason}}
}

// NewWorkerStatus builds a worker_status message.
func NewWorkerStatus(status, message string) Message {
	return Message{Type: MsgWorkerStatus, WorkerStatus: &WorkerStatusPayload{Status: status, Message: message}}
}

// NewWorkerError builds a worker_error message.
func NewWorkerError(err error) Message {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Message{Type: MsgWorkerError, WorkerError: &WorkerErrorPayload{Error: msg}}
}

// NewGetEventStateRequest builds a correlated state read request.
func NewGetEventStateRequest(id string) Message {
	return Message{Type: MsgGetEventStateRequest, ID: id, GetEventStateRequest: &GetEventStateRequestPayload{}}
}

// NewGetEventStateResponse answers a state read request.
func NewGetEventStateResponse(id string, log []event.Event) Message {
	if log == nil {
		log = []event.Event{}
	}
	return Message{
		Type:                  MsgGetEventStateResponse,
		ID:                    id,
		GetEventStateResponse: &GetEventStateResponsePayload{RequestID: id, EventLog: log},
	}
}

// NewUpdateEventStateRequest builds a correlated persist request.
func NewUpdateEventStateRequest(id string, e event.Event) Message {
	return Message{Type: MsgUpdateEventStateRequest, ID: id, UpdateEventStateRequest: &UpdateEventStateRequestPayload{Event: e}}
}

// NewUpdateEventStateResponse acknowledges a persist request. A nil err
// means success.
func NewUpdateEventStateResponse(id string, err error) Message {
	p := &UpdateEventStateResponsePayload{RequestID: id, Success: err == nil}
	if err != nil {
		p.Error = err.Error()
	}
	return Message{Type: MsgUpdateEventStateResponse, ID: id, UpdateEventStateResponse: p}
}

// CorrelationID returns the id a response answers: the envelope id, or the
// payload's requestId when the envelope carries none.
func (m Message) CorrelationID() string {
	if m.ID != "" {
		return m.ID
	}
	switch {
	case m.GetEventStateResponse != nil:
		return m.GetEventStateResponse.RequestID
	case m.UpdateEventStateResponse != nil:
		return m.UpdateEventStateResponse.RequestID
	}
	return ""
}
