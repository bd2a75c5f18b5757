package inspector

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aukilabs/eihwaz/models"
	"github.com/aukilabs/eihwaz/spatial"
	"github.com/aukilabs/eihwaz/wire"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
)

func newTestInspector(t *testing.T, opts models.SceneOptions) (*models.Scene, *httptest.Server) {
	scene, err := models.NewScene(1, opts)
	require.NoError(t, err)

	go scene.StartDispatchFrames()
	t.Cleanup(scene.Close)

	ring := NewRing(64)
	cancel := ring.Observe(scene)
	t.Cleanup(cancel)

	ins := &Inspector{
		Scene:   scene,
		Ring:    ring,
		Version: "test",
	}

	server := httptest.NewServer(ins.Handler())
	t.Cleanup(server.Close)

	return scene, server
}

func testSceneOptions() models.SceneOptions {
	return models.SceneOptions{
		FrameDuration: time.Millisecond * 5,
		World:         spatial.TestWorld(),
	}
}

func do(t *testing.T, method, url string, body, out any) int {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	if out != nil && len(b) != 0 {
		require.NoError(t, json.Unmarshal(b, out))
	}
	return res.StatusCode
}

func TestInspectorHealthVersion(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	res, err := http.Get(server.URL + "/health")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(server.URL + "/version")
	require.NoError(t, err)
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Equal(t, "test", string(b))
}

func TestInspectorState(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	var state stateResponse
	status := do(t, http.MethodGet, server.URL+"/api/state", nil, &state)

	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, state.SceneUUID)
	require.Equal(t, "test", state.WorldName)
	require.Equal(t, 1, state.EntityCount)
	require.Zero(t, state.ClientCount)
}

func TestInspectorEntities(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	var list entityListResponse
	status := do(t, http.MethodGet, server.URL+"/api/entities", nil, &list)

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, list.Count)
	require.Len(t, list.Entities, 1)
	require.Equal(t, "camera", list.Entities[0].LayerNames)
	require.True(t, list.Entities[0].Persist)
}

func TestInspectorIndex(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	var report wire.IndexReport
	status := do(t, http.MethodGet, server.URL+"/api/index", nil, &report)

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, wire.Vec3{X: -30, Y: -30, Z: -30}, report.WorldMin)
	require.Equal(t, wire.Vec3{X: 30, Y: 30, Z: 30}, report.WorldMax)
	require.Equal(t, 1, report.EntityCount)
	require.NotZero(t, report.NodeCount)
}

func TestInspectorFrameStats(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	require.Eventually(t, func() bool {
		var stats wire.FrameStats
		if do(t, http.MethodGet, server.URL+"/api/stats/frame", nil, &stats) != http.StatusOK {
			return false
		}
		return stats.Type == wire.MsgTypeFrameStats && stats.EntityCount == 1
	}, time.Second, time.Millisecond*10)
}

func TestInspectorStatsHistory(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	require.Eventually(t, func() bool {
		var history statsHistoryResponse
		if do(t, http.MethodGet, server.URL+"/api/stats/history", nil, &history) != http.StatusOK {
			return false
		}
		return history.Count > 0 && len(history.Stats) == history.Count
	}, time.Second, time.Millisecond*10)
}

func TestInspectorCommand(t *testing.T) {
	scene, server := newTestInspector(t, testSceneOptions())

	payload, err := json.Marshal(wire.SpawnEntityPayload{
		Position: wire.Vec3{X: 5, Y: 1, Z: -3},
		Radius:   2,
	})
	require.NoError(t, err)

	var res wire.CommandResponse
	status := do(t, http.MethodPost, server.URL+"/api/command", commandRequest{
		Type:    wire.CommandSpawnEntity,
		Payload: payload,
	}, &res)

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, wire.CommandSpawnEntity, res.Command)
	require.NotZero(t, res.EntityID)
	require.Equal(t, 2, scene.EntityCount())
}

func TestInspectorCommandErrors(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	t.Run("unknown command", func(t *testing.T) {
		var res wire.ErrorResponse
		status := do(t, http.MethodPost, server.URL+"/api/command", commandRequest{
			Type: "reticulate_splines",
		}, &res)

		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, wire.ErrorCodeUnknownCommand, res.Code)
	})

	t.Run("entity not found", func(t *testing.T) {
		payload, err := json.Marshal(wire.DespawnEntityPayload{EntityID: 4242})
		require.NoError(t, err)

		var res wire.ErrorResponse
		status := do(t, http.MethodPost, server.URL+"/api/command", commandRequest{
			Type:    wire.CommandDespawnEntity,
			Payload: payload,
		}, &res)

		require.Equal(t, http.StatusNotFound, status)
		require.Equal(t, wire.ErrorCodeNotFound, res.Code)
	})

	t.Run("missing payload", func(t *testing.T) {
		var res wire.ErrorResponse
		status := do(t, http.MethodPost, server.URL+"/api/command", commandRequest{
			Type: wire.CommandSpawnEntity,
		}, &res)

		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, wire.ErrorCodeBadRequest, res.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		var res wire.ErrorResponse
		status := do(t, http.MethodPost, server.URL+"/api/command", "garbage", &res)

		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, wire.ErrorCodeBadRequest, res.Code)
	})
}

func TestInspectorCommandRateLimited(t *testing.T) {
	opts := testSceneOptions()
	opts.MutationInterval = time.Minute
	_, server := newTestInspector(t, opts)

	payload, err := json.Marshal(wire.SpawnEntityPayload{
		Position: wire.Vec3{X: 1},
	})
	require.NoError(t, err)

	status := do(t, http.MethodPost, server.URL+"/api/command", commandRequest{
		Type:    wire.CommandSpawnEntity,
		Payload: payload,
	}, nil)
	require.Equal(t, http.StatusOK, status)

	var res wire.ErrorResponse
	status = do(t, http.MethodPost, server.URL+"/api/command", commandRequest{
		Type:    wire.CommandSpawnEntity,
		Payload: payload,
	}, &res)
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, wire.ErrorCodeRateLimited, res.Code)
}

func TestInspectorQuery(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	payload, err := json.Marshal(wire.SpawnEntityPayload{
		Position: wire.Vec3{X: 5, Y: 1, Z: -3},
		Radius:   2,
	})
	require.NoError(t, err)

	var spawned wire.CommandResponse
	status := do(t, http.MethodPost, server.URL+"/api/command", commandRequest{
		Type:    wire.CommandSpawnEntity,
		Payload: payload,
	}, &spawned)
	require.Equal(t, http.StatusOK, status)

	var res queryResponse
	status = do(t, http.MethodPost, server.URL+"/api/query", wire.QuerySpec{
		Kind:   wire.QueryKindRadius,
		Center: wire.Vec3{X: 5, Y: 1, Z: -3},
		Radius: 3,
	}, &res)

	require.Equal(t, http.StatusOK, status)
	require.Equal(t, wire.QueryKindRadius, res.Kind)
	require.Equal(t, 1, res.Count)
	require.Len(t, res.Hits, 1)
	require.Equal(t, spawned.EntityID, res.Hits[0].EntityID)
}

func TestInspectorQueryBadRequest(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	t.Run("zero radius", func(t *testing.T) {
		var res wire.ErrorResponse
		status := do(t, http.MethodPost, server.URL+"/api/query", wire.QuerySpec{
			Kind: wire.QueryKindRadius,
		}, &res)

		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, wire.ErrorCodeBadRequest, res.Code)
	})

	t.Run("unknown kind", func(t *testing.T) {
		var res wire.ErrorResponse
		status := do(t, http.MethodPost, server.URL+"/api/query", wire.QuerySpec{
			Kind: "banana",
		}, &res)

		require.Equal(t, http.StatusBadRequest, status)
		require.Equal(t, wire.ErrorCodeBadRequest, res.Code)
	})
}

func TestInspectorMethodNotAllowed(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	require.Equal(t, http.StatusMethodNotAllowed,
		do(t, http.MethodPost, server.URL+"/api/state", nil, nil))
	require.Equal(t, http.StatusMethodNotAllowed,
		do(t, http.MethodGet, server.URL+"/api/command", nil, nil))
}

func TestInspectorCORSPreflight(t *testing.T) {
	_, server := newTestInspector(t, testSceneOptions())

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/api/command", nil)
	require.NoError(t, err)

	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, http.StatusNoContent, res.StatusCode)
	require.Equal(t, "*", res.Header.Get("Access-Control-Allow-Origin"))
}
