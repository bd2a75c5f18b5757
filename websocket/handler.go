package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/eihwaz/models"
	"github.com/aukilabs/eihwaz/modules"
	"github.com/aukilabs/eihwaz/wire"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 512
	msgChanSize  = 64
)

// Handler represents a debug socket handler.
type Handler interface {
	// Handles a ping request.
	HandlePing(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error

	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a message with a module. Returns a msg skip error when the
	// module did not recognize the message.
	HandleWithModule(ctx context.Context, module modules.Module, respond wire.ResponseSender, msg wire.Msg) error

	// Pushes a frame statistics message to the client.
	SendFrameStats(ctx context.Context, respond wire.ResponseSender) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() wire.Receiver

	// Creates a message sender passed in service methods in order to send
	// messages.
	Sender() wire.Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The interval between each frame statistics message pushed to the
	// connected client.
	FrameStatsInterval() time.Duration

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	// Returns the scene under inspection.
	GetScene() *models.Scene

	// Returns the modules.
	GetModules() []modules.Module

	// The current client.
	CurrentClient() *models.Client

	// Get ClientID.
	GetClientID() string
}

// Handle serves the given connection until it disconnects.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The debug handler.
	Handler Handler

	sendChan       chan wire.Msg
	sender         wire.Sender
	msgChan        chan wire.Msg
	receiver       wire.Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan wire.Msg, sendChanSize)
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.msgChan = make(chan wire.Msg, msgChanSize)
	h.receiver = h.Handler.Receiver()
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	frameStatsTicker := time.NewTicker(h.Handler.FrameStatsInterval())
	defer frameStatsTicker.Stop()

	var responder = responseSender{
		send:    h.send,
		sendMsg: h.sendMsg,
	}

	for ctx.Err() == nil {
		select {
		case <-ctx.Done():
			h.disconnect(ctx.Err())

		case <-idleTimer.C:
			h.disconnect(errors.New("idle connection").WithTag("duration", h.Handler.IdleTimeout()))

		case <-frameStatsTicker.C:
			if err := h.Handler.SendFrameStats(ctx, responder); err != nil {
				h.disconnect(errors.New("sending frame stats failed").Wrap(err))
			}

		case msg := <-h.msgChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				h.disconnect(errors.New("handling message failed").Wrap(err))
			}

		case err := <-h.disconnectChan:
			h.handleDisconnect(err)
			if ctx.Err() == nil {
				// cancel context so go routines can cleanly exit
				cancel()
			}
		}
	}

	wg.Wait()
}

func (h *handler) send(v any) {
	msg, err := wire.MsgFromData(v)
	if err != nil {
		logs.WithTag("message", v).
			WithClientID(h.Handler.GetClientID()).
			Debug(err)
		return
	}
	h.sendChan <- msg
}

func (h *handler) sendMsg(msg wire.Msg) {
	h.sendChan <- msg
}

func (h *handler) startSending(ctx context.Context) {
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return

		case h.msgChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg wire.Msg, responder wire.ResponseSender) error {
	switch msg.Type {
	case wire.MsgTypePingRequest:
		return h.Handler.HandlePing(ctx, responder, msg)
	}

	handled := false

	for _, m := range h.Handler.GetModules() {
		err := h.Handler.HandleWithModule(ctx, m, responder, msg)
		switch {
		case errors.IsType(err, wire.ErrTypeMsgSkip):

		case err != nil:
			return err

		default:
			handled = true
		}
	}

	if !handled {
		// The request id is a best effort extraction, zero is acceptable.
		var req wire.Request
		msg.DataTo(&req)

		responder.Send(wire.NewErrorResponse(req.RequestID, wire.ErrorCodeBadRequest,
			"unsupported message type: "+msg.TypeString()))
	}
	return nil
}

func (h *handler) disconnect(err error) {
	h.disconnectChan <- err
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send    func(any)
	sendMsg func(wire.Msg)
}

func (r responseSender) Send(v any) {
	r.send(v)
}

func (r responseSender) SendMsg(msg wire.Msg) {
	r.sendMsg(msg)
}
