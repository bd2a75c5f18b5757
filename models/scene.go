package models

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aukilabs/eihwaz/command"
	"github.com/aukilabs/eihwaz/spatial"
	"github.com/aukilabs/eihwaz/wire"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"
)

const (
	DefaultFrameDuration = time.Millisecond * 15

	// Error types returned by scene operations.
	ErrTypeEntityNotFound = "not_found"
	ErrTypeBadRequest     = "bad_request"
	ErrTypeUnknownCommand = "unknown_command"
	ErrTypeTimeout        = "timeout"
)

// Scene owns the simulation state: the entity store, the spatial index, the
// query engine, the result cache, statistics and the command queue.
//
// All spatial mutations happen on the single goroutine running
// StartDispatchFrames. Other goroutines never touch the index; they enqueue
// work through Execute and read mutex-guarded snapshots.
type Scene struct {
	ID        uint32
	SceneUUID string

	World spatial.WorldConfig

	clientMutex sync.RWMutex
	clients     map[string]*Client

	entityIDs   SequentialIDGenerator
	entityMutex sync.RWMutex
	entities    map[spatial.EntityID]*Entity

	index        *spatial.Octree
	cache        *spatial.ResultCache
	stats        *spatial.Stats
	engine       *spatial.Engine
	synchronizer *spatial.Synchronizer
	queue        *command.Queue

	cameraID spatial.EntityID

	startFrameOnce  sync.Once
	closeFrameChan  chan struct{}
	frameTicker     *time.Ticker
	frameHandlerIDs SequentialIDGenerator
	frameHandlers   map[uint32]func()
	frameMutex      sync.RWMutex

	closeOnce sync.Once
}

type SceneOptions struct {
	// Zero means DefaultFrameDuration.
	FrameDuration time.Duration

	// Zero value means spatial.DefaultWorld.
	World spatial.WorldConfig

	// Command queue sizing. Zeros mean the command package defaults.
	CommandQueueSize int
	MutationInterval time.Duration

	// Panic on index invariant violations instead of rebuilding.
	StrictInvariants bool

	// Bypass the query result cache.
	DisableCache bool
}

func NewScene(id uint32, opts SceneOptions) (*Scene, error) {
	if opts.FrameDuration <= 0 {
		opts.FrameDuration = DefaultFrameDuration
	}
	if opts.World == (spatial.WorldConfig{}) {
		opts.World = spatial.DefaultWorld()
	}
	if err := opts.World.Validate(); err != nil {
		return nil, errors.New("creating scene failed").Wrap(err)
	}

	index := spatial.NewOctree(opts.World)
	index.Strict = opts.StrictInvariants

	cache := spatial.NewResultCache()
	stats := spatial.NewStats()

	engine := spatial.NewEngine(index, cache, stats)
	engine.DisableCache = opts.DisableCache

	s := &Scene{
		ID:             id,
		SceneUUID:      uuid.New().String(),
		World:          opts.World,
		clients:        make(map[string]*Client),
		entities:       make(map[spatial.EntityID]*Entity),
		index:          index,
		cache:          cache,
		stats:          stats,
		engine:         engine,
		queue:          command.NewQueue(opts.CommandQueueSize, opts.MutationInterval),
		closeFrameChan: make(chan struct{}, 1),
		frameTicker:    time.NewTicker(opts.FrameDuration),
		frameHandlers:  make(map[uint32]func()),
	}
	s.synchronizer = spatial.NewSynchronizer(index, s, stats)

	index.Connect(s.ResolvePosition)
	s.synchronizer.Connect(s.ResolvePosition)

	camera := s.SpawnEntity(SpawnOptions{
		Position: opts.World.Bounds().Center(),
		Behavior: spatial.BehaviorDynamic,
		Layer:    spatial.LayerCamera,
		Persist:  true,
	})
	s.cameraID = camera.ID

	return s, nil
}

func (s *Scene) Close() {
	s.closeOnce.Do(func() {
		s.frameTicker.Stop()
		s.closeFrameChan <- struct{}{}
	})
}

func (s *Scene) AddClient(c *Client) {
	s.clientMutex.Lock()
	defer s.clientMutex.Unlock()

	s.clients[c.ID] = c
	instrumentClientConnected()
}

func (s *Scene) RemoveClient(c *Client) {
	s.clientMutex.Lock()
	defer s.clientMutex.Unlock()

	delete(s.clients, c.ID)
	instrumentClientDisconnected()
}

func (s *Scene) ClientByID(id string) (*Client, bool) {
	s.clientMutex.RLock()
	defer s.clientMutex.RUnlock()

	c, ok := s.clients[id]
	return c, ok
}

func (s *Scene) ClientCount() int {
	s.clientMutex.RLock()
	defer s.clientMutex.RUnlock()

	return len(s.clients)
}

func (s *Scene) NewEntityID() spatial.EntityID {
	return spatial.EntityID(s.entityIDs.New())
}

func (s *Scene) EntityByID(id spatial.EntityID) (*Entity, bool) {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	e, ok := s.entities[id]
	return e, ok
}

func (s *Scene) Entities() []*Entity {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	entities := make([]*Entity, 0, len(s.entities))
	for _, e := range s.entities {
		entities = append(entities, e)
	}
	return entities
}

func (s *Scene) EntityCount() int {
	s.entityMutex.RLock()
	defer s.entityMutex.RUnlock()

	return len(s.entities)
}

// Camera returns the scene camera entity, the target of set_camera_position
// commands.
func (s *Scene) Camera() (*Entity, bool) {
	return s.EntityByID(s.cameraID)
}

// ResolvePosition is the spatial.ResolveFunc wired into the index and the
// synchronizer.
func (s *Scene) ResolvePosition(id spatial.EntityID) (spatial.Vector3f, bool) {
	e, ok := s.EntityByID(id)
	if !ok {
		return spatial.Vector3f{}, false
	}
	return e.Position(), true
}

// EachDescriptor implements spatial.DescriptorSource. Descriptors are
// snapshotted under the store lock and visited without it, so resolver
// callbacks issued by the visitor can take the lock again. Visiting in id
// order keeps index construction deterministic.
func (s *Scene) EachDescriptor(visit func(spatial.EntityID, *spatial.Descriptor) bool) {
	type item struct {
		id spatial.EntityID
		d  *spatial.Descriptor
	}

	s.entityMutex.RLock()
	items := make([]item, 0, len(s.entities))
	for id, e := range s.entities {
		items = append(items, item{id: id, d: e.Spatial})
	}
	s.entityMutex.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].id < items[j].id
	})

	for _, it := range items {
		if !visit(it.id, it.d) {
			return
		}
	}
}

func (s *Scene) HandleFrame(h func()) (cancel func()) {
	s.frameMutex.Lock()
	defer s.frameMutex.Unlock()

	id := s.frameHandlerIDs.New()
	s.frameHandlers[id] = h

	return func() {
		s.frameMutex.Lock()
		defer s.frameMutex.Unlock()

		delete(s.frameHandlers, id)
		s.frameHandlerIDs.Reuse(id)
	}
}

func (s *Scene) StartDispatchFrames() {
	s.startFrameOnce.Do(func() {
		for {
			select {
			case <-s.closeFrameChan:
				return

			case <-s.frameTicker.C:
				s.frame()
			}
		}
	})
}

// frame runs one simulation step. Phase order is fixed: queued mutations
// first, then the synchronizer tick, then queued reads against the fresh
// index, then frame handlers.
func (s *Scene) frame() {
	start := time.Now()

	cmds := s.queue.Drain()
	for _, c := range cmds {
		if c.Kind == command.KindMutate {
			c.Run()
		}
	}

	s.synchronizer.Tick()

	for _, c := range cmds {
		if c.Kind == command.KindRead {
			c.Run()
		}
	}

	s.frameMutex.RLock()
	for _, h := range s.frameHandlers {
		h()
	}
	s.frameMutex.RUnlock()

	s.stats.RecordIndex(s.index.DebugInfo())
	hits, misses := s.cache.Counters()
	s.stats.RecordCache(hits, misses, s.cache.Len())
	s.stats.EndFrame()

	instrumentFrame(time.Since(start))
}

// Enqueue schedules fn on the next frame without waiting for it.
func (s *Scene) Enqueue(name string, kind command.Kind, fn func()) error {
	return s.queue.Enqueue(command.Command{
		Name: name,
		Kind: kind,
		Run:  fn,
	})
}

// Execute enqueues fn and waits for the simulation goroutine to run it. On
// timeout the command is not withdrawn; it still runs, only the wait gives
// up.
func (s *Scene) Execute(ctx context.Context, name string, kind command.Kind, fn func()) error {
	done := make(chan struct{})

	err := s.Enqueue(name, kind, func() {
		defer close(done)
		fn()
	})
	if err != nil {
		return err
	}

	select {
	case <-done:
		return nil

	case <-ctx.Done():
		return errors.New("command was not executed in time").
			WithType(ErrTypeTimeout).
			WithTag("command", name).
			Wrap(ctx.Err())
	}
}

// AllowMutation reports whether the mutation rate limit grants another
// mutating command. Checked at service boundaries only; internal cleanup
// commands are never throttled.
func (s *Scene) AllowMutation() bool {
	return s.queue.AllowMutation()
}

func (s *Scene) PendingCommands() int {
	return s.queue.Len()
}

// SpawnOptions configures a new entity. Zero values fall back to a static
// entity on the items layer with the default bounding radius.
type SpawnOptions struct {
	Position spatial.Vector3f
	Rotation Quaternion
	Radius   float32
	Behavior spatial.Behavior
	Layer    spatial.Layer
	Persist  bool
	ClientID string
}

// SpawnEntity creates an entity and registers it with the store. The index
// picks it up on the next synchronizer tick. Must run on the simulation
// goroutine.
func (s *Scene) SpawnEntity(opts SpawnOptions) *Entity {
	if opts.Radius <= 0 {
		opts.Radius = DefaultEntityRadius
	}
	if opts.Layer == spatial.LayerNone {
		opts.Layer = spatial.LayerItems
	}
	if opts.Rotation == (Quaternion{}) {
		opts.Rotation = IdentityRotation()
	}

	d := spatial.NewDescriptor(opts.Radius, opts.Behavior)
	d.Layer = opts.Layer

	e := &Entity{
		ID:       s.NewEntityID(),
		ClientID: opts.ClientID,
		Persist:  opts.Persist,
		Spatial:  d,
	}
	e.SetTransform(Transform{
		Position: opts.Position,
		Rotation: opts.Rotation,
	})

	s.entityMutex.Lock()
	s.entities[e.ID] = e
	s.entityMutex.Unlock()

	if opts.ClientID != "" {
		if c, ok := s.ClientByID(opts.ClientID); ok {
			c.AddEntity(e)
		}
	}

	instrumentSpawnEntity(d.Behavior.String())
	return e
}

// DespawnEntity removes an entity from the store and the index. Unknown ids
// are a no-op. Must run on the simulation goroutine.
func (s *Scene) DespawnEntity(id spatial.EntityID) bool {
	s.entityMutex.Lock()
	e, ok := s.entities[id]
	if ok {
		delete(s.entities, id)
	}
	s.entityMutex.Unlock()
	if !ok {
		return false
	}

	s.index.Remove(id)
	s.entityIDs.Reuse(uint32(id))

	if e.ClientID != "" {
		if c, ok := s.ClientByID(e.ClientID); ok {
			c.RemoveEntity(e)
		}
	}

	instrumentDespawnEntity(e.Spatial.Behavior.String())
	return true
}

// DespawnClientEntities removes the non-persistent entities spawned by a
// disconnected client. Must run on the simulation goroutine.
func (s *Scene) DespawnClientEntities(c *Client) int {
	var removed int
	for id := range c.EntityIDs() {
		e, ok := s.EntityByID(id)
		if !ok || e.Persist {
			continue
		}
		if s.DespawnEntity(id) {
			removed++
		}
	}
	return removed
}

func (s *Scene) TeleportEntity(id spatial.EntityID, p spatial.Vector3f) error {
	e, ok := s.EntityByID(id)
	if !ok {
		return errors.New("entity is not in the scene").
			WithType(ErrTypeEntityNotFound).
			WithTag("entity_id", id)
	}

	e.SetPosition(p)
	e.Spatial.MarkDirty()
	return nil
}

func (s *Scene) MarkEntityDirty(id spatial.EntityID) error {
	e, ok := s.EntityByID(id)
	if !ok {
		return errors.New("entity is not in the scene").
			WithType(ErrTypeEntityNotFound).
			WithTag("entity_id", id)
	}

	e.Spatial.MarkDirty()
	return nil
}

// SetCameraPosition moves the scene camera. The camera is dynamic, so the
// next synchronizer tick relocates it; a despawned camera is respawned.
func (s *Scene) SetCameraPosition(p spatial.Vector3f) {
	e, ok := s.EntityByID(s.cameraID)
	if !ok {
		e = s.SpawnEntity(SpawnOptions{
			Position: p,
			Behavior: spatial.BehaviorDynamic,
			Layer:    spatial.LayerCamera,
			Persist:  true,
		})
		s.cameraID = e.ID
		return
	}
	e.SetPosition(p)
}

// Clear despawns every non-persistent entity. Must run on the simulation
// goroutine.
func (s *Scene) Clear() int {
	var removed int
	for _, e := range s.Entities() {
		if e.Persist {
			continue
		}
		if s.DespawnEntity(e.ID) {
			removed++
		}
	}
	return removed
}

// Querier exposes the query engine to consumers running on the simulation
// goroutine.
func (s *Scene) Querier() spatial.Querier {
	return s.engine
}

// StatsSnapshot returns a value copy of the collected statistics. Safe to
// call from any goroutine.
func (s *Scene) StatsSnapshot() spatial.StatsSnapshot {
	return s.stats.Snapshot()
}

// RunQuerySpec executes a wire query spec against the engine. Must run on
// the simulation goroutine.
func (s *Scene) RunQuerySpec(spec wire.QuerySpec) ([]wire.QueryHit, error) {
	mask := spatial.Layer(spec.LayerMask)
	if mask == spatial.LayerNone {
		mask = spatial.LayerAll
	}

	var hits []spatial.Hit

	switch spec.Kind {
	case wire.QueryKindRadius:
		if spec.Radius <= 0 {
			return nil, errors.New("query radius must be positive").
				WithType(ErrTypeBadRequest)
		}
		hits = s.engine.QueryRadius(SpatialVec(spec.Center), spec.Radius, mask)

	case wire.QueryKindRegion:
		region, err := regionFromSpec(spec)
		if err != nil {
			return nil, err
		}
		hits = s.engine.QueryRegion(region, mask)

	case wire.QueryKindFrustum:
		frustum, err := frustumFromSpec(spec)
		if err != nil {
			return nil, err
		}
		hits = s.engine.QueryFrustum(frustum, mask)

	case wire.QueryKindRay:
		dir := SpatialVec(spec.Direction)
		if dir.LengthSq() == 0 {
			return nil, errors.New("ray direction must be non-zero").
				WithType(ErrTypeBadRequest)
		}
		maxDistance := spec.MaxDistance
		if maxDistance <= 0 {
			maxDistance = s.defaultQueryDistance()
		}
		hit, ok := s.engine.QueryRay(spatial.NewRay(SpatialVec(spec.Origin), dir), maxDistance, mask)
		if ok {
			hits = []spatial.Hit{hit}
		}

	case wire.QueryKindNearest:
		count := spec.Count
		if count <= 0 {
			count = 1
		}
		maxDistance := spec.MaxDistance
		if maxDistance <= 0 {
			maxDistance = s.defaultQueryDistance()
		}
		hits = s.engine.QueryNearest(SpatialVec(spec.Center), count, maxDistance, mask)

	default:
		return nil, errors.New("unknown query kind").
			WithType(ErrTypeBadRequest).
			WithTag("kind", spec.Kind)
	}

	return hitsToWire(hits), nil
}

// defaultQueryDistance caps unbounded ray and nearest queries at the world
// diagonal, which reaches any in-bounds entity.
func (s *Scene) defaultQueryDistance() float32 {
	return float32(s.index.WorldBounds().Size().Length())
}

func regionFromSpec(spec wire.QuerySpec) (spatial.Box, error) {
	min, max := SpatialVec(spec.Min), SpatialVec(spec.Max)
	if max.X < min.X || max.Y < min.Y || max.Z < min.Z {
		return spatial.Box{}, errors.New("region max must not be below min").
			WithType(ErrTypeBadRequest)
	}
	return spatial.NewBox(min, max), nil
}

func frustumFromSpec(spec wire.QuerySpec) (*spatial.Frustum, error) {
	if n := len(spec.ViewProjection); n != 0 {
		if n != 16 {
			return nil, errors.New("view projection must hold 16 values").
				WithType(ErrTypeBadRequest).
				WithTag("len", n)
		}
		var vp spatial.Mat4
		copy(vp[:], spec.ViewProjection)
		return spatial.FrustumFromMatrix(vp, SpatialVec(spec.Origin)), nil
	}

	region, err := regionFromSpec(spec)
	if err != nil {
		return nil, err
	}
	return spatial.BoxFrustum(region, SpatialVec(spec.Origin)), nil
}

func hitsToWire(hits []spatial.Hit) []wire.QueryHit {
	res := make([]wire.QueryHit, len(hits))
	for i, h := range hits {
		res[i] = wire.QueryHit{
			EntityID: uint32(h.ID),
			Distance: h.Distance,
		}
	}
	return res
}

// ApplyCommand runs a validated remote command. Boundary checks (known
// command name, mutation rate limit) happen before it is queued; clientID
// attributes spawned entities for disconnect cleanup. Must run on the
// simulation goroutine.
func (s *Scene) ApplyCommand(clientID, cmd string, payload json.RawMessage) (wire.CommandResponse, error) {
	res := wire.CommandResponse{
		Type:      wire.MsgTypeCommandResponse,
		Timestamp: time.Now(),
		Command:   cmd,
	}

	switch cmd {
	case wire.CommandSpawnEntity:
		var p wire.SpawnEntityPayload
		if err := unmarshalPayload(payload, &p); err != nil {
			return res, err
		}
		behavior, err := BehaviorFromString(p.Behavior)
		if err != nil {
			return res, err
		}
		e := s.SpawnEntity(SpawnOptions{
			Position: SpatialVec(p.Position),
			Radius:   p.Radius,
			Behavior: behavior,
			Layer:    spatial.Layer(p.Layer),
			Persist:  p.Persist,
			ClientID: clientID,
		})
		res.EntityID = uint32(e.ID)

	case wire.CommandDespawnEntity:
		var p wire.DespawnEntityPayload
		if err := unmarshalPayload(payload, &p); err != nil {
			return res, err
		}
		if !s.DespawnEntity(spatial.EntityID(p.EntityID)) {
			return res, errors.New("entity is not in the scene").
				WithType(ErrTypeEntityNotFound).
				WithTag("entity_id", p.EntityID)
		}
		res.EntityID = p.EntityID

	case wire.CommandTeleportEntity:
		var p wire.TeleportEntityPayload
		if err := unmarshalPayload(payload, &p); err != nil {
			return res, err
		}
		if err := s.TeleportEntity(spatial.EntityID(p.EntityID), SpatialVec(p.Position)); err != nil {
			return res, err
		}
		res.EntityID = p.EntityID

	case wire.CommandSetCameraPosition:
		var p wire.SetCameraPositionPayload
		if err := unmarshalPayload(payload, &p); err != nil {
			return res, err
		}
		s.SetCameraPosition(SpatialVec(p.Position))

	case wire.CommandMarkDirty:
		var p wire.MarkDirtyPayload
		if err := unmarshalPayload(payload, &p); err != nil {
			return res, err
		}
		if err := s.MarkEntityDirty(spatial.EntityID(p.EntityID)); err != nil {
			return res, err
		}
		res.EntityID = p.EntityID

	case wire.CommandClearScene:
		s.Clear()

	default:
		return res, errors.New("unknown command").
			WithType(ErrTypeUnknownCommand).
			WithTag("command", cmd)
	}

	return res, nil
}

// BehaviorFromString maps wire behavior names. An empty string means static.
func BehaviorFromString(v string) (spatial.Behavior, error) {
	switch v {
	case "", "static":
		return spatial.BehaviorStatic, nil
	case "dynamic":
		return spatial.BehaviorDynamic, nil
	case "occasional":
		return spatial.BehaviorOccasional, nil
	default:
		return 0, errors.New("unknown behavior").
			WithType(ErrTypeBadRequest).
			WithTag("behavior", v)
	}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("command payload is missing").
			WithType(ErrTypeBadRequest)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.New("decoding command payload failed").
			WithType(ErrTypeBadRequest).
			Wrap(err)
	}
	return nil
}

// EntityList reports every entity with its index placement, ordered by id.
// Entities spawned this frame are not indexed yet and report a -1 depth.
// Must run on the simulation goroutine.
func (s *Scene) EntityList() []wire.EntityInfo {
	entities := s.Entities()
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].ID < entities[j].ID
	})

	entries := make(map[spatial.EntityID]spatial.EntryInfo, s.index.Len())
	for _, entry := range s.index.Entries() {
		entries[entry.ID] = entry
	}

	infos := make([]wire.EntityInfo, len(entities))
	for i, e := range entities {
		info := e.ToWire()
		if entry, ok := entries[e.ID]; ok {
			info.Depth = entry.Depth
			info.OutOfBounds = entry.OutOfBounds
		} else {
			info.Depth = -1
		}
		infos[i] = info
	}
	return infos
}

// IndexReport summarizes the index shape. Must run on the simulation
// goroutine.
func (s *Scene) IndexReport() wire.IndexReport {
	info := s.index.DebugInfo()
	return wire.IndexReport{
		WorldMin:      WireVec(info.WorldBounds.Min),
		WorldMax:      WireVec(info.WorldBounds.Max),
		NodeCount:     info.NodeCount,
		LeafCount:     info.LeafCount,
		EntityCount:   info.EntityCount,
		OutOfBounds:   info.OutOfBounds,
		MaxDepthInUse: info.MaxDepthInUse,
		Version:       info.Version,
		Rebuilds:      info.Rebuilds,
	}
}

// FrameStatsMessage builds the periodic push from the latest statistics
// snapshot. Safe to call from any goroutine.
func (s *Scene) FrameStatsMessage() wire.FrameStats {
	snap := s.stats.Snapshot()
	return wire.FrameStats{
		Type:           wire.MsgTypeFrameStats,
		Timestamp:      time.Now(),
		Frame:          snap.Frame,
		EntityCount:    snap.Index.EntityCount,
		NodeCount:      snap.Index.NodeCount,
		MaxDepth:       snap.Index.MaxDepthInUse,
		OutOfBounds:    snap.Index.OutOfBounds,
		Queries:        snap.LastFrame.Queries,
		CacheHitRate:   snap.CacheHitRate,
		AverageQueryMS: float64(snap.AverageQueryTime) / float64(time.Millisecond),
		SyncDurationMS: float64(snap.LastFrame.Sync.Duration) / float64(time.Millisecond),
		Tracked:        snap.LastFrame.Sync.Tracked,
		Relocated:      snap.LastFrame.Sync.Relocated,
	}
}
