package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aukilabs/eihwaz/models"
	"github.com/aukilabs/eihwaz/modules"
	"github.com/aukilabs/eihwaz/wire"
	"github.com/stretchr/testify/require"
)

// testModule is shared between the handlers of both test connections, hence
// the mutex.
type testModule struct {
	mutex         sync.Mutex
	currentScene  *models.Scene
	currentClient *models.Client
	handledMsgs   []wire.MsgType
	skippedMsgs   []wire.MsgType
	onDisconnect  func()
}

func (m *testModule) Name() string {
	return "test-module"
}

func (m *testModule) Init(s *models.Scene, c *models.Client) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.currentScene = s
	m.currentClient = c
}

func (m *testModule) HandleMsg(ctx context.Context, respond wire.ResponseSender, msg wire.Msg) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch msg.Type {
	case wire.MsgTypeEntityListRequest:
		m.skippedMsgs = append(m.skippedMsgs, msg.Type)
		return wire.ErrModuleMsgSkip

	default:
		m.handledMsgs = append(m.handledMsgs, msg.Type)

		var req wire.Request
		if err := msg.DataTo(&req); err != nil {
			return err
		}

		respond.Send(&wire.IndexReportResponse{
			Type:      wire.MsgTypeIndexReportResponse,
			Timestamp: time.Now(),
			RequestID: req.RequestID,
		})
		return nil
	}
}

func (m *testModule) HandleDisconnect() {
	if m.onDisconnect != nil {
		m.onDisconnect()
	}
}

func (m *testModule) state() (*models.Scene, *models.Client, []wire.MsgType, []wire.MsgType) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	return m.currentScene, m.currentClient, m.handledMsgs, m.skippedMsgs
}

func TestModule(t *testing.T) {
	var wg sync.WaitGroup
	var once sync.Once
	var modA *testModule

	newHandler, _ := newTestHandler(t, func() modules.Module {
		if modA == nil {
			wg.Add(1)
			modA = &testModule{
				onDisconnect: func() {
					once.Do(wg.Done)
				},
			}
		}
		return modA
	})

	clientA, _, close := NewTestingEnv(t, newHandler)
	defer close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := wire.NewScenario(clientA).
		Send(func() any {
			return &wire.IndexReportRequest{
				Type:      wire.MsgTypeIndexReportRequest,
				Timestamp: time.Now(),
				RequestID: 1,
			}
		}).
		Receive(
			wire.FilterByRequestID(1),
			wire.FilterByType(wire.MsgTypeIndexReportResponse),
		).
		Send(func() any {
			return &wire.EntityListRequest{
				Type:      wire.MsgTypeEntityListRequest,
				Timestamp: time.Now(),
				RequestID: 2,
			}
		}).
		Receive(
			wire.FilterByRequestID(2),
			wire.FilterByType(wire.MsgTypeError),
		).
		Run(ctx)
	require.NoError(t, err)

	clientA.Close()
	wg.Wait()

	scene, client, handled, skipped := modA.state()
	require.NotNil(t, scene)
	require.NotNil(t, client)
	require.Len(t, handled, 1)
	require.Equal(t, wire.MsgTypeIndexReportRequest, handled[0])
	require.Len(t, skipped, 1)
	require.Equal(t, wire.MsgTypeEntityListRequest, skipped[0])
}
