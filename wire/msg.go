// Package wire defines the JSON message layer spoken on the debug socket and
// the REST inspection surface: the envelope, the message catalog and the
// shared data transfer shapes.
package wire

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

// MsgType identifies a debug protocol message.
type MsgType string

const (
	MsgTypeError MsgType = "error_response"

	MsgTypePingRequest  MsgType = "ping_request"
	MsgTypePingResponse MsgType = "ping_response"

	MsgTypeEntityListRequest  MsgType = "entity_list_request"
	MsgTypeEntityListResponse MsgType = "entity_list_response"

	MsgTypeIndexReportRequest  MsgType = "index_report_request"
	MsgTypeIndexReportResponse MsgType = "index_report_response"

	MsgTypeQueryRequest  MsgType = "query_request"
	MsgTypeQueryResponse MsgType = "query_response"

	MsgTypeCameraSetRequest  MsgType = "camera_set_request"
	MsgTypeCameraSetResponse MsgType = "camera_set_response"

	MsgTypeCommandRequest  MsgType = "command_request"
	MsgTypeCommandResponse MsgType = "command_response"

	MsgTypeFrameStats MsgType = "frame_stats"
)

const (
	// ErrTypeMsgSkip tags the sentinel returned by modules that pass on a
	// message.
	ErrTypeMsgSkip = "msg_skip"
)

// ErrModuleMsgSkip indicates a module chose not to handle a message. It is
// swallowed by the handler, never sent to the client.
var ErrModuleMsgSkip = errors.New("message skipped").WithType(ErrTypeMsgSkip)

// Msg is one message on the debug socket: the decoded type header and the raw
// JSON it came from. Payload access goes through DataTo so handlers only pay
// for decoding messages they act on.
type Msg struct {
	Type MsgType
	Time time.Time

	data []byte
}

type msgHead struct {
	Type MsgType `json:"type"`
}

// MsgFromData builds a Msg from a payload struct. The payload must carry its
// type in a `json:"type"` field.
func MsgFromData(v any) (Msg, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Msg{}, errors.New("encoding message failed").Wrap(err)
	}

	var head msgHead
	if err := json.Unmarshal(b, &head); err != nil {
		return Msg{}, errors.New("decoding message type failed").Wrap(err)
	}
	if head.Type == "" {
		return Msg{}, errors.New("message has no type")
	}

	return Msg{
		Type: head.Type,
		Time: time.Now(),
		data: b,
	}, nil
}

// DataTo unmarshals the message payload into v.
func (m Msg) DataTo(v any) error {
	if err := json.Unmarshal(m.data, v); err != nil {
		return errors.New("decoding message payload failed").
			WithTag("msg_type", m.Type).
			Wrap(err)
	}
	return nil
}

func (m Msg) TypeString() string {
	return string(m.Type)
}

func (m Msg) Size() int {
	return len(m.data)
}

// Sender pushes a message down a connection and reports the byte count, so
// instrumentation decorators can meter traffic.
type Sender func(Msg) (int, error)

// Receiver blocks for the next message and reports the byte count.
type Receiver func() (Msg, int, error)

func NewSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		if err := websocket.Message.Send(conn, msg.data); err != nil {
			return 0, errors.New("writing message failed").Wrap(err)
		}
		return len(msg.data), nil
	}
}

func NewReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var b []byte
		if err := websocket.Message.Receive(conn, &b); err != nil {
			return Msg{}, 0, errors.New("reading message failed").Wrap(err)
		}

		var head msgHead
		if err := json.Unmarshal(b, &head); err != nil {
			return Msg{}, len(b), errors.New("decoding message type failed").Wrap(err)
		}

		return Msg{
			Type: head.Type,
			Time: time.Now(),
			data: b,
		}, len(b), nil
	}
}

// ResponseSender is the outbound surface handed to message handlers. Send
// encodes a payload struct; failures are logged by the handler plumbing
// rather than surfaced, matching fire-and-forget response semantics.
type ResponseSender interface {
	Send(v any)
	SendMsg(Msg)
}
