package wire

import (
	"time"

	"github.com/segmentio/encoding/json"
)

// ErrorCode classifies a rejected request.
type ErrorCode string

const (
	ErrorCodeBadRequest     ErrorCode = "bad_request"
	ErrorCodeNotFound       ErrorCode = "not_found"
	ErrorCodeUnknownCommand ErrorCode = "unknown_command"
	ErrorCodeRateLimited    ErrorCode = "rate_limited"
	ErrorCodeQueueFull      ErrorCode = "queue_full"
	ErrorCodeTimeout        ErrorCode = "timeout"
	ErrorCodeInternal       ErrorCode = "internal_error"
)

// Vec3 is the transport shape for positions and directions.
type Vec3 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

type ErrorResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message,omitempty"`
}

func NewErrorResponse(requestID uint32, code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Type:      MsgTypeError,
		Timestamp: time.Now(),
		RequestID: requestID,
		Code:      code,
		Message:   message,
	}
}

// Request is the envelope shared by every request message, for handlers that
// only care about the request id.
type Request struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
}

type PingRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
}

type PingResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
}

// EntityInfo describes one indexed entity to debugging clients.
type EntityInfo struct {
	EntityID    uint32  `json:"entity_id"`
	Position    Vec3    `json:"position"`
	Radius      float32 `json:"radius"`
	Layer       uint32  `json:"layer"`
	LayerNames  string  `json:"layer_names,omitempty"`
	Behavior    string  `json:"behavior"`
	Depth       int     `json:"depth"`
	OutOfBounds bool    `json:"out_of_bounds,omitempty"`
	Persist     bool    `json:"persist,omitempty"`
}

type EntityListRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
}

type EntityListResponse struct {
	Type      MsgType      `json:"type"`
	Timestamp time.Time    `json:"timestamp"`
	RequestID uint32       `json:"request_id,omitempty"`
	Entities  []EntityInfo `json:"entities"`
}

// IndexReport is a point-in-time summary of the index shape.
type IndexReport struct {
	WorldMin      Vec3   `json:"world_min"`
	WorldMax      Vec3   `json:"world_max"`
	NodeCount     int    `json:"node_count"`
	LeafCount     int    `json:"leaf_count"`
	EntityCount   int    `json:"entity_count"`
	OutOfBounds   int    `json:"out_of_bounds"`
	MaxDepthInUse int    `json:"max_depth_in_use"`
	Version       uint64 `json:"version"`
	Rebuilds      uint64 `json:"rebuilds"`
}

type IndexReportRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
}

type IndexReportResponse struct {
	Type      MsgType     `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID uint32      `json:"request_id,omitempty"`
	Report    IndexReport `json:"report"`
}

// Query kinds accepted in a QuerySpec.
const (
	QueryKindRadius  = "radius"
	QueryKindRegion  = "region"
	QueryKindFrustum = "frustum"
	QueryKindRay     = "ray"
	QueryKindNearest = "nearest"
)

// QuerySpec describes one spatial query. Kind selects the shape; the other
// fields are read as that shape needs them. A zero layer mask means all
// layers.
type QuerySpec struct {
	Kind      string `json:"kind"`
	LayerMask uint32 `json:"layer_mask,omitempty"`

	// Radius and nearest queries.
	Center Vec3    `json:"center"`
	Radius float32 `json:"radius,omitempty"`

	// Region queries.
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`

	// Ray queries; Origin doubles as the frustum viewpoint.
	Origin      Vec3    `json:"origin"`
	Direction   Vec3    `json:"direction"`
	MaxDistance float32 `json:"max_distance,omitempty"`

	// Nearest queries.
	Count int `json:"count,omitempty"`

	// Frustum queries: a 4x4 view-projection matrix in column-major order.
	// When absent, Min/Max describe a box-shaped frustum instead.
	ViewProjection []float32 `json:"view_projection,omitempty"`
}

type QueryRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
	Query     QuerySpec `json:"query"`
}

type QueryHit struct {
	EntityID uint32  `json:"entity_id"`
	Distance float32 `json:"distance"`
}

type QueryResponse struct {
	Type      MsgType    `json:"type"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID uint32     `json:"request_id,omitempty"`
	Kind      string     `json:"kind"`
	Hits      []QueryHit `json:"hits"`
}

type CameraSetRequest struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
	Position  Vec3      `json:"position"`
}

type CameraSetResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
}

// Commands accepted over the socket and the REST surface.
const (
	CommandSpawnEntity       = "spawn_entity"
	CommandDespawnEntity     = "despawn_entity"
	CommandTeleportEntity    = "teleport_entity"
	CommandSetCameraPosition = "set_camera_position"
	CommandMarkDirty         = "mark_dirty"
	CommandClearScene        = "clear_scene"
)

var validCommands = map[string]struct{}{
	CommandSpawnEntity:       {},
	CommandDespawnEntity:     {},
	CommandTeleportEntity:    {},
	CommandSetCameraPosition: {},
	CommandMarkDirty:         {},
	CommandClearScene:        {},
}

// ValidCommand reports whether name is a known command. Unknown names are
// rejected at the service boundary before anything is queued.
func ValidCommand(name string) bool {
	_, ok := validCommands[name]
	return ok
}

type CommandRequest struct {
	Type      MsgType         `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	RequestID uint32          `json:"request_id,omitempty"`
	Command   string          `json:"command"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type CommandResponse struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	RequestID uint32    `json:"request_id,omitempty"`
	Command   string    `json:"command"`

	// Set by spawn_entity.
	EntityID uint32 `json:"entity_id,omitempty"`
}

type SpawnEntityPayload struct {
	Position Vec3    `json:"position"`
	Radius   float32 `json:"radius,omitempty"`
	Behavior string  `json:"behavior,omitempty"`
	Layer    uint32  `json:"layer,omitempty"`
	Persist  bool    `json:"persist,omitempty"`
}

type DespawnEntityPayload struct {
	EntityID uint32 `json:"entity_id"`
}

type TeleportEntityPayload struct {
	EntityID uint32 `json:"entity_id"`
	Position Vec3   `json:"position"`
}

type SetCameraPositionPayload struct {
	Position Vec3 `json:"position"`
}

type MarkDirtyPayload struct {
	EntityID uint32 `json:"entity_id"`
}

// FrameStats is pushed periodically to every connected debug client.
type FrameStats struct {
	Type      MsgType   `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Frame          uint64  `json:"frame"`
	EntityCount    int     `json:"entity_count"`
	NodeCount      int     `json:"node_count"`
	MaxDepth       int     `json:"max_depth"`
	OutOfBounds    int     `json:"out_of_bounds"`
	Queries        int     `json:"queries"`
	CacheHitRate   float64 `json:"cache_hit_rate"`
	AverageQueryMS float64 `json:"average_query_ms"`
	SyncDurationMS float64 `json:"sync_duration_ms"`
	Tracked        int     `json:"tracked"`
	Relocated      int     `json:"relocated"`
}
