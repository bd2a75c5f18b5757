package stress

import (
	"context"
	"math/rand"
	"time"

	"github.com/aukilabs/eihwaz/spatial"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// Run defaults.
const (
	DefaultEntityCount = 200
	DefaultQueryCount  = 1000
	DefaultQueryRadius = 10
	DefaultTimeout     = time.Second * 10
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Request parametrizes a stress run. Zero fields take the package defaults.
type Request struct {
	EntityCount int           `json:"entity_count,omitempty"`
	QueryCount  int           `json:"query_count,omitempty"`
	QueryRadius float32       `json:"query_radius,omitempty"`
	Seed        uint64        `json:"seed,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Results reports one stress run.
type Results struct {
	Endpoint       string  `json:"endpoint"`
	Status         Status  `json:"status"`
	Error          string  `json:"error,omitempty"`
	EntityCount    int     `json:"entity_count"`
	QueryCount     int     `json:"query_count"`
	HitTotal       int     `json:"hit_total"`
	InsertMilliSec float64 `json:"insert_ms"`
	QueryMilliSec  float64 `json:"query_ms"`
	QueriesPerSec  float64 `json:"queries_per_sec"`
}

type RunStressTestOptions struct {
	Endpoint    string
	EntityCount int
	QueryCount  int
	QueryRadius float32
	Seed        uint64
	Timeout     time.Duration
}

// RunStressTest builds a private index, fills it with uniformly placed
// entities and hammers it with radius queries. It never touches the serving
// scene.
func RunStressTest(ctx context.Context, opts RunStressTestOptions) (Results, error) {
	if opts.EntityCount <= 0 {
		opts.EntityCount = DefaultEntityCount
	}
	if opts.QueryCount <= 0 {
		opts.QueryCount = DefaultQueryCount
	}
	if opts.QueryRadius <= 0 {
		opts.QueryRadius = DefaultQueryRadius
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	res := Results{
		Endpoint:    opts.Endpoint,
		Status:      StatusFailed,
		EntityCount: opts.EntityCount,
		QueryCount:  opts.QueryCount,
	}

	world := spatial.DefaultWorld()
	index := spatial.NewOctree(world)
	cache := spatial.NewResultCache()
	stats := spatial.NewStats()
	engine := spatial.NewEngine(index, cache, stats)

	store := newRandomStore(world, opts.EntityCount, opts.Seed)

	synchronizer := spatial.NewSynchronizer(index, store, stats)
	synchronizer.Connect(store.resolve)

	insertStart := time.Now()
	synchronizer.Tick()
	res.InsertMilliSec = float64(time.Since(insertStart)) / float64(time.Millisecond)

	if index.Len() != opts.EntityCount {
		err := errors.New("stress index incomplete").
			WithTag("indexed", index.Len()).
			WithTag("expected", opts.EntityCount)
		res.Error = err.Error()
		return res, err
	}

	queryStart := time.Now()
	for i := 0; i < opts.QueryCount; i++ {
		if i%64 == 0 && ctx.Err() != nil {
			err := errors.New("stress run canceled").Wrap(ctx.Err())
			res.Error = err.Error()
			return res, err
		}
		res.HitTotal += len(engine.QueryRadius(store.randomPoint(), opts.QueryRadius, spatial.LayerAll))
	}

	queryDur := time.Since(queryStart)
	res.QueryMilliSec = float64(queryDur) / float64(time.Millisecond)
	if queryDur > 0 {
		res.QueriesPerSec = float64(opts.QueryCount) / queryDur.Seconds()
	}

	res.Status = StatusSuccess
	return res, nil
}

// randomStore is a self-contained descriptor source with uniformly placed
// entities, standing in for the entity store during a stress run.
type randomStore struct {
	rng       *rand.Rand
	bounds    spatial.Box
	ids       []spatial.EntityID
	descs     map[spatial.EntityID]*spatial.Descriptor
	positions map[spatial.EntityID]spatial.Vector3f
}

func newRandomStore(world spatial.WorldConfig, count int, seed uint64) *randomStore {
	s := &randomStore{
		rng:       rand.New(rand.NewSource(int64(seed))),
		bounds:    world.Bounds(),
		descs:     make(map[spatial.EntityID]*spatial.Descriptor, count),
		positions: make(map[spatial.EntityID]spatial.Vector3f, count),
	}

	for i := 0; i < count; i++ {
		id := spatial.EntityID(i + 1)
		s.ids = append(s.ids, id)
		s.descs[id] = &spatial.Descriptor{
			BoundingRadius: 0.5,
			Behavior:       spatial.BehaviorStatic,
			Layer:          spatial.LayerItems,
		}
		s.positions[id] = s.randomPoint()
	}
	return s
}

func (s *randomStore) EachDescriptor(fn func(spatial.EntityID, *spatial.Descriptor) bool) {
	for _, id := range s.ids {
		if !fn(id, s.descs[id]) {
			return
		}
	}
}

func (s *randomStore) resolve(id spatial.EntityID) (spatial.Vector3f, bool) {
	p, ok := s.positions[id]
	return p, ok
}

func (s *randomStore) randomPoint() spatial.Vector3f {
	min, max := s.bounds.Min, s.bounds.Max
	return spatial.Vector3f{
		X: min.X + s.rng.Float32()*(max.X-min.X),
		Y: min.Y + s.rng.Float32()*(max.Y-min.Y),
		Z: min.Z + s.rng.Float32()*(max.Z-min.Z),
	}
}
