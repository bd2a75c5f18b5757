// Package kenaz is the spatial inspection module: it serves the debug socket
// requests that list entities, report the index shape, run queries and drive
// scene commands, funneling every index access through the scene command
// queue.
package kenaz

import (
	"context"
	"time"

	"github.com/aukilabs/eihwaz/command"
	"github.com/aukilabs/eihwaz/models"
	"github.com/aukilabs/eihwaz/wire"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// DefaultExecuteTimeout bounds the wait for the simulation goroutine to pick
// up a request.
const DefaultExecuteTimeout = time.Second * 2

type Module struct {
	ExecuteTimeout time.Duration

	currentScene  *models.Scene
	currentClient *models.Client
}

func (m *Module) Name() string {
	return "kenaz"
}

func (m *Module) Init(s *models.Scene, c *models.Client) {
	m.currentScene = s
	m.currentClient = c
}

func (m *Module) HandleMsg(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var err error

	switch msg.Type {
	case wire.MsgTypeEntityListRequest:
		err = m.handleEntityList(ctx, respond, msg)

	case wire.MsgTypeIndexReportRequest:
		err = m.handleIndexReport(ctx, respond, msg)

	case wire.MsgTypeQueryRequest:
		err = m.handleQuery(ctx, respond, msg)

	case wire.MsgTypeCameraSetRequest:
		err = m.handleCameraSet(ctx, respond, msg)

	case wire.MsgTypeCommandRequest:
		err = m.handleCommand(ctx, respond, msg)

	default:
		err = wire.ErrModuleMsgSkip
	}

	return err
}

func (m *Module) HandleDisconnect() {
	scene := m.currentScene
	client := m.currentClient
	if scene == nil || client == nil {
		return
	}

	// Cleanup is enqueued directly, bypassing the mutation rate limit: a
	// disconnect must always reclaim its entities.
	err := scene.Enqueue("client_cleanup", command.KindMutate, func() {
		scene.DespawnClientEntities(client)
	})
	if err != nil {
		logs.WithTag("client_id", client.ID).
			Error(errors.New("scheduling client cleanup failed").Wrap(err))
	}
}

func (m *Module) handleEntityList(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.EntityListRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	scene, err := m.scene(msg)
	if err != nil {
		return err
	}

	var entities []wire.EntityInfo
	if err := m.execute(ctx, "entity_list", command.KindRead, func() {
		entities = scene.EntityList()
	}); err != nil {
		respondError(respond, req.RequestID, err)
		return nil
	}

	respond.Send(&wire.EntityListResponse{
		Type:      wire.MsgTypeEntityListResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
		Entities:  entities,
	})
	return nil
}

func (m *Module) handleIndexReport(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.IndexReportRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	scene, err := m.scene(msg)
	if err != nil {
		return err
	}

	var report wire.IndexReport
	if err := m.execute(ctx, "index_report", command.KindRead, func() {
		report = scene.IndexReport()
	}); err != nil {
		respondError(respond, req.RequestID, err)
		return nil
	}

	respond.Send(&wire.IndexReportResponse{
		Type:      wire.MsgTypeIndexReportResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
		Report:    report,
	})
	return nil
}

func (m *Module) handleQuery(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.QueryRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	scene, err := m.scene(msg)
	if err != nil {
		return err
	}

	var hits []wire.QueryHit
	var queryErr error
	err = m.execute(ctx, "query", command.KindRead, func() {
		hits, queryErr = scene.RunQuerySpec(req.Query)
	})
	if err == nil {
		err = queryErr
	}
	if err != nil {
		respondError(respond, req.RequestID, err)
		return nil
	}

	respond.Send(&wire.QueryResponse{
		Type:      wire.MsgTypeQueryResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
		Kind:      req.Query.Kind,
		Hits:      hits,
	})
	return nil
}

func (m *Module) handleCameraSet(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.CameraSetRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	scene, err := m.scene(msg)
	if err != nil {
		return err
	}

	if !scene.AllowMutation() {
		respond.Send(wire.NewErrorResponse(req.RequestID, wire.ErrorCodeRateLimited,
			"mutation rate limit exceeded"))
		return nil
	}

	if err := m.execute(ctx, "camera_set", command.KindMutate, func() {
		scene.SetCameraPosition(models.SpatialVec(req.Position))
	}); err != nil {
		respondError(respond, req.RequestID, err)
		return nil
	}

	respond.Send(&wire.CameraSetResponse{
		Type:      wire.MsgTypeCameraSetResponse,
		Timestamp: time.Now(),
		RequestID: req.RequestID,
	})
	return nil
}

func (m *Module) handleCommand(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	var req wire.CommandRequest
	if err := msg.DataTo(&req); err != nil {
		return err
	}

	scene, err := m.scene(msg)
	if err != nil {
		return err
	}

	if !wire.ValidCommand(req.Command) {
		respond.Send(wire.NewErrorResponse(req.RequestID, wire.ErrorCodeUnknownCommand,
			"unknown command: "+req.Command))
		return nil
	}

	if !scene.AllowMutation() {
		respond.Send(wire.NewErrorResponse(req.RequestID, wire.ErrorCodeRateLimited,
			"mutation rate limit exceeded"))
		return nil
	}

	var res wire.CommandResponse
	var cmdErr error
	err = m.execute(ctx, req.Command, command.KindMutate, func() {
		res, cmdErr = scene.ApplyCommand(m.clientID(), req.Command, req.Payload)
	})
	if err == nil {
		err = cmdErr
	}
	if err != nil {
		respondError(respond, req.RequestID, err)
		return nil
	}

	res.RequestID = req.RequestID
	respond.Send(&res)
	return nil
}

func (m *Module) scene(msg wire.Msg) (*models.Scene, error) {
	if m.currentScene == nil {
		return nil, errors.New("module is not initialized").
			WithTag("msg_type", msg.Type)
	}
	return m.currentScene, nil
}

func (m *Module) clientID() string {
	if m.currentClient == nil {
		return ""
	}
	return m.currentClient.ID
}

func (m *Module) execute(ctx context.Context, name string, kind command.Kind, fn func()) error {
	timeout := m.ExecuteTimeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return m.currentScene.Execute(ctx, name, kind, fn)
}

func respondError(respond wire.ResponseSender, requestID uint32, err error) {
	respond.Send(wire.NewErrorResponse(requestID, errorCode(err), err.Error()))
}

// errorCode maps scene error types onto wire codes. The types are chosen to
// match, so unknown ones are the only mapping left.
func errorCode(err error) wire.ErrorCode {
	t := errors.Type(err)
	if t == "" {
		return wire.ErrorCodeInternal
	}
	return wire.ErrorCode(t)
}
