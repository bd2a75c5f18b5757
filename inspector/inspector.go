// Package inspector serves the REST inspection surface: scene state, entity
// and index reports, frame statistics history and the validated debug command
// set. Reads that touch the index funnel through the scene command queue with
// a bounded timeout; state and stats endpoints serve snapshots.
package inspector

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/aukilabs/eihwaz/command"
	eihwazhttp "github.com/aukilabs/eihwaz/http"
	"github.com/aukilabs/eihwaz/models"
	"github.com/aukilabs/eihwaz/wire"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

// DefaultExecuteTimeout bounds how long an endpoint waits for the simulation
// goroutine to serve a queued read or command.
const DefaultExecuteTimeout = time.Second * 2

type Inspector struct {
	Scene   *models.Scene
	Ring    *Ring
	Version string

	ExecuteTimeout time.Duration
}

// Handler returns the inspection mux with CORS enabled.
func (i *Inspector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", eihwazhttp.HandleHealthCheck)
	mux.HandleFunc("/version", eihwazhttp.HandleVersion(i.Version))
	mux.HandleFunc("/api/state", i.handleState)
	mux.HandleFunc("/api/stats/frame", i.handleFrameStats)
	mux.HandleFunc("/api/stats/history", i.handleStatsHistory)
	mux.HandleFunc("/api/entities", i.handleEntities)
	mux.HandleFunc("/api/index", i.handleIndex)
	mux.HandleFunc("/api/command", i.handleCommand)
	mux.HandleFunc("/api/query", i.handleQuery)
	return eihwazhttp.HandleWithCORS(mux)
}

type stateResponse struct {
	SceneID         uint32 `json:"scene_id"`
	SceneUUID       string `json:"scene_uuid"`
	WorldName       string `json:"world_name"`
	Frame           uint64 `json:"frame"`
	EntityCount     int    `json:"entity_count"`
	ClientCount     int    `json:"client_count"`
	PendingCommands int    `json:"pending_commands"`
}

func (i *Inspector) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	snap := i.Scene.StatsSnapshot()
	i.writeJSON(w, http.StatusOK, stateResponse{
		SceneID:         i.Scene.ID,
		SceneUUID:       i.Scene.SceneUUID,
		WorldName:       i.Scene.World.Name,
		Frame:           snap.Frame,
		EntityCount:     i.Scene.EntityCount(),
		ClientCount:     i.Scene.ClientCount(),
		PendingCommands: i.Scene.PendingCommands(),
	})
}

func (i *Inspector) handleFrameStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	i.writeJSON(w, http.StatusOK, i.Scene.FrameStatsMessage())
}

type statsHistoryResponse struct {
	Stats []wire.FrameStats `json:"stats"`
	Count int               `json:"count"`
}

func (i *Inspector) handleStatsHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	history := []wire.FrameStats{}
	if i.Ring != nil {
		history = i.Ring.History()
	}
	i.writeJSON(w, http.StatusOK, statsHistoryResponse{
		Stats: history,
		Count: len(history),
	})
}

type entityListResponse struct {
	Entities []wire.EntityInfo `json:"entities"`
	Count    int               `json:"count"`
}

func (i *Inspector) handleEntities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := i.executeContext(r)
	defer cancel()

	var entities []wire.EntityInfo
	err := i.Scene.Execute(ctx, "inspector_entity_list", command.KindRead, func() {
		entities = i.Scene.EntityList()
	})
	if err != nil {
		i.writeError(w, err)
		return
	}

	i.writeJSON(w, http.StatusOK, entityListResponse{
		Entities: entities,
		Count:    len(entities),
	})
}

func (i *Inspector) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := i.executeContext(r)
	defer cancel()

	var report wire.IndexReport
	err := i.Scene.Execute(ctx, "inspector_index_report", command.KindRead, func() {
		report = i.Scene.IndexReport()
	})
	if err != nil {
		i.writeError(w, err)
		return
	}

	i.writeJSON(w, http.StatusOK, report)
}

type commandRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (i *Inspector) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req commandRequest
	if err := decodeBody(r, &req); err != nil {
		i.writeError(w, err)
		return
	}

	if !wire.ValidCommand(req.Type) {
		i.writeError(w, errors.New("unknown command: "+req.Type).
			WithType(string(wire.ErrorCodeUnknownCommand)))
		return
	}

	if !i.Scene.AllowMutation() {
		i.writeError(w, errors.New("mutation rate limit exceeded").
			WithType(string(wire.ErrorCodeRateLimited)))
		return
	}

	ctx, cancel := i.executeContext(r)
	defer cancel()

	clientID := r.Header.Get(eihwazhttp.HeaderClientID)

	var res wire.CommandResponse
	var cmdErr error
	err := i.Scene.Execute(ctx, "inspector_command", command.KindMutate, func() {
		res, cmdErr = i.Scene.ApplyCommand(clientID, req.Type, req.Payload)
	})
	if err == nil {
		err = cmdErr
	}
	if err != nil {
		i.writeError(w, err)
		return
	}

	logs.WithTag("command", req.Type).
		WithTag("entity_id", res.EntityID).
		Info("debug command applied")

	i.writeJSON(w, http.StatusOK, res)
}

type queryResponse struct {
	Kind  string          `json:"kind"`
	Hits  []wire.QueryHit `json:"hits"`
	Count int             `json:"count"`
}

func (i *Inspector) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var spec wire.QuerySpec
	if err := decodeBody(r, &spec); err != nil {
		i.writeError(w, err)
		return
	}

	ctx, cancel := i.executeContext(r)
	defer cancel()

	var hits []wire.QueryHit
	var queryErr error
	err := i.Scene.Execute(ctx, "inspector_query", command.KindRead, func() {
		hits, queryErr = i.Scene.RunQuerySpec(spec)
	})
	if err == nil {
		err = queryErr
	}
	if err != nil {
		i.writeError(w, err)
		return
	}

	if hits == nil {
		hits = []wire.QueryHit{}
	}
	i.writeJSON(w, http.StatusOK, queryResponse{
		Kind:  spec.Kind,
		Hits:  hits,
		Count: len(hits),
	})
}

func (i *Inspector) executeContext(r *http.Request) (ctx context.Context, cancel func()) {
	timeout := i.ExecuteTimeout
	if timeout <= 0 {
		timeout = DefaultExecuteTimeout
	}
	return context.WithTimeout(r.Context(), timeout)
}

func (i *Inspector) writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logs.Error(errors.New("encoding inspector response failed").Wrap(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func (i *Inspector) writeError(w http.ResponseWriter, err error) {
	code := errorCode(err)
	i.writeJSON(w, statusFor(code), wire.NewErrorResponse(0, code, err.Error()))
}

func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return errors.New("reading request body failed").
			WithType(string(wire.ErrorCodeBadRequest)).
			Wrap(err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.New("decoding request body failed").
			WithType(string(wire.ErrorCodeBadRequest)).
			Wrap(err)
	}
	return nil
}

func errorCode(err error) wire.ErrorCode {
	if code := wire.ErrorCode(errors.Type(err)); code != "" {
		return code
	}
	return wire.ErrorCodeInternal
}

func statusFor(code wire.ErrorCode) int {
	switch code {
	case wire.ErrorCodeBadRequest, wire.ErrorCodeUnknownCommand:
		return http.StatusBadRequest
	case wire.ErrorCodeNotFound:
		return http.StatusNotFound
	case wire.ErrorCodeRateLimited:
		return http.StatusTooManyRequests
	case wire.ErrorCodeQueueFull:
		return http.StatusServiceUnavailable
	case wire.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
