package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/eihwaz/featureflag"
	eihwazhttp "github.com/aukilabs/eihwaz/http"
	"github.com/aukilabs/eihwaz/models"
	"github.com/aukilabs/eihwaz/modules"
	"github.com/aukilabs/eihwaz/wire"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// DebugHandler represents a service that serves the debug protocol over a
// WebSocket connection: scene inspection, spatial queries and debug commands
// for one connected client.
type DebugHandler struct {
	// The interval between each frame statistics message pushed to the
	// connected client.
	FrameStatsPushInterval time.Duration

	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The scene under inspection.
	Scene *models.Scene

	// The modules that serve the debug protocol messages.
	Modules []modules.Module

	FeatureFlags featureflag.FeatureFlag

	conn          *websocket.Conn
	currentClient *models.Client

	clientID string
}

func (h *DebugHandler) HandleConnect(conn *websocket.Conn) {
	req := conn.Request()

	clientID := req.Header.Get(eihwazhttp.HeaderClientID)
	if clientID == "" {
		clientID = uuid.NewString()
	}

	h.conn = conn
	h.clientID = clientID

	client := &models.Client{ID: clientID}
	h.Scene.AddClient(client)
	h.currentClient = client

	for _, m := range h.Modules {
		m.Init(h.Scene, client)
	}
}

func (h *DebugHandler) HandlePing(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.Request
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	respond.Send(&wire.PingResponse{
		Type:      wire.MsgTypePingResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
	})
	return nil
}

func (h *DebugHandler) HandleDisconnect(_ error) {
	client := h.currentClient
	if client == nil {
		return
	}

	for _, m := range h.Modules {
		m.HandleDisconnect()
	}

	h.Scene.RemoveClient(client)
	h.currentClient = nil
}

func (h *DebugHandler) HandleWithModule(ctx context.Context, m modules.Module, respond wire.ResponseSender, msg wire.Msg) error {
	if h.CurrentClient() == nil {
		return nil
	}

	err := m.HandleMsg(ctx, respond, msg)
	if err == nil || errors.IsType(err, wire.ErrTypeMsgSkip) {
		return err
	}
	return errors.New("handling message with module failed").
		WithTag("module", m.Name()).
		Wrap(err)
}

func (h *DebugHandler) SendFrameStats(ctx context.Context, respond wire.ResponseSender) error {
	h.FeatureFlags.IfNotSet(featureflag.FlagDisableFrameStatsPush, func() {
		stats := h.Scene.FrameStatsMessage()
		respond.Send(&stats)
	})
	return nil
}

func (h *DebugHandler) Receiver() wire.Receiver {
	return wire.NewReceiver(h.conn)
}

func (h *DebugHandler) Sender() wire.Sender {
	return wire.NewSender(h.conn)
}

func (h *DebugHandler) Close() {
}

func (h *DebugHandler) FrameStatsInterval() time.Duration {
	return h.FrameStatsPushInterval
}

func (h *DebugHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *DebugHandler) GetScene() *models.Scene {
	return h.Scene
}

func (h *DebugHandler) GetModules() []modules.Module {
	return h.Modules
}

func (h *DebugHandler) CurrentClient() *models.Client {
	return h.currentClient
}

func (h *DebugHandler) GetClientID() string {
	return h.clientID
}
