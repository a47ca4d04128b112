package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// Client events.
const (
	EventJoin                = "join"
	EventJoinPrivateRoom     = "join_private_room"
	EventLeavePrivateRoom    = "leave_private_room"
	EventSendPersonalMessage = "send_personal_message"
	EventSendPrivateMessage  = "send_private_message"
)

// Server events other than the message payloads emitted by the pipeline.
const (
	EventUpdateUsers = "update_users"
	EventResponse    = "response"
)

type BaseMessage struct {
	Id        int       `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientMessage struct {
	Id    int             `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type Join struct {
	Email string `json:"email"`
}

type PrivateRoom struct {
	Email          string `json:"email"`
	RecipientEmail string `json:"recipientEmail"`
}

type PersonalMessage struct {
	SenderEmail    string `json:"sender_email"`
	RecipientEmail string `json:"recipient_email"`
	Message        string `json:"message"`
}

type PrivateMessage struct {
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Content   string          `json:"content"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

type ServerMessage struct {
	BaseMessage
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type Response struct {
	ResponseCode int    `json:"response_code"`
	Error        string `json:"error,omitempty"`
	Data         any    `json:"data,omitempty"`
}

func newResponse(id int, resp *Response) *ServerMessage {
	return &ServerMessage{
		BaseMessage: BaseMessage{
			Id:        id,
			Timestamp: Now(),
		},
		Event: EventResponse,
		Data:  resp,
	}
}

func NoErrOK(id int, data any) *ServerMessage {
	return newResponse(id, &Response{
		ResponseCode: http.StatusOK,
		Data:         data,
	})
}

func NoErrAccepted(id int) *ServerMessage {
	return newResponse(id, &Response{
		ResponseCode: http.StatusAccepted,
	})
}

func ErrParticipantNotFound(id int) *ServerMessage {
	return newResponse(id, &Response{
		ResponseCode: http.StatusNotFound,
		Error:        "participant not found",
	})
}

func ErrInvalidMessage(id int) *ServerMessage {
	msg := newResponse(0, &Response{
		ResponseCode: http.StatusBadRequest,
		Error:        "invalid message format",
	})

	if id > 0 {
		msg.Id = id
	}
	return msg
}

func ErrUnknownEvent(id int) *ServerMessage {
	return newResponse(id, &Response{
		ResponseCode: http.StatusBadRequest,
		Error:        "unknown event",
	})
}

func ErrServiceUnavailable(id int) *ServerMessage {
	return newResponse(id, &Response{
		ResponseCode: http.StatusServiceUnavailable,
		Error:        "service unavailable",
	})
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
