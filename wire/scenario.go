package wire

import (
	"context"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/net/websocket"
)

// Scenario scripts a send/receive exchange against a live connection. Tests
// chain steps and then Run them; a Receive step reads messages until one
// passes all its filters, so interleaved pushes do not break the script.
type Scenario struct {
	conn  *websocket.Conn
	steps []func(ctx context.Context) error
}

func NewScenario(conn *websocket.Conn) *Scenario {
	return &Scenario{conn: conn}
}

// MsgFilter inspects a received message. Returning ErrModuleMsgSkip makes the
// step ignore the message and keep reading; any other error fails the
// scenario.
type MsgFilter func(Msg) error

func FilterByType(t MsgType) MsgFilter {
	return func(m Msg) error {
		if m.Type != t {
			return ErrModuleMsgSkip
		}
		return nil
	}
}

func FilterByRequestID(id uint32) MsgFilter {
	return func(m Msg) error {
		var head struct {
			RequestID uint32 `json:"request_id"`
		}
		if err := m.DataTo(&head); err != nil {
			return err
		}
		if head.RequestID != id {
			return ErrModuleMsgSkip
		}
		return nil
	}
}

func (s *Scenario) Send(fn func() any) *Scenario {
	s.steps = append(s.steps, func(ctx context.Context) error {
		msg, err := MsgFromData(fn())
		if err != nil {
			return err
		}
		_, err = NewSender(s.conn)(msg)
		return err
	})
	return s
}

func (s *Scenario) Receive(filters ...MsgFilter) *Scenario {
	receive := NewReceiver(s.conn)

	s.steps = append(s.steps, func(ctx context.Context) error {
		for {
			if err := ctx.Err(); err != nil {
				return err
			}
			if deadline, ok := ctx.Deadline(); ok {
				if err := s.conn.SetReadDeadline(deadline); err != nil {
					return err
				}
			}

			msg, _, err := receive()
			if err != nil {
				return err
			}

			skipped := false
			for _, filter := range filters {
				err := filter(msg)
				if err == nil {
					continue
				}
				if errors.IsType(err, ErrTypeMsgSkip) {
					skipped = true
					break
				}
				return err
			}
			if skipped {
				continue
			}
			return nil
		}
	})
	return s
}

func (s *Scenario) Run(ctx context.Context) error {
	for _, step := range s.steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}
