package spatial

import (
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// DefaultDisplacementThreshold is the movement below which a dynamic entity
// is not relocated, absorbing floating point jitter from the store.
const DefaultDisplacementThreshold = 0.01

// Synchronizer patches the index from the entity store once per frame. Tick
// is the phase boundary: everything before it sees last frame's index,
// everything after sees this frame's.
//
// Per-entity behavior decides the work done:
//   - static entities are inserted when first seen and never re-evaluated,
//   - dynamic entities are re-resolved every tick,
//   - occasional entities are re-resolved only while their dirty flag is set.
//
// A set dirty flag forces re-evaluation regardless of behavior and is cleared
// once processed.
type Synchronizer struct {
	// Movement below this distance does not issue a relocation.
	DisplacementThreshold float32

	index  Partition
	source DescriptorSource
	stats  *Stats

	resolve ResolveFunc
}

func NewSynchronizer(index Partition, source DescriptorSource, stats *Stats) *Synchronizer {
	return &Synchronizer{
		DisplacementThreshold: DefaultDisplacementThreshold,
		index:                 index,
		source:                source,
		stats:                 stats,
	}
}

// Connect supplies the position resolver. It must be called once after
// construction, before the first Tick; the callable is stored by value.
func (s *Synchronizer) Connect(resolve ResolveFunc) {
	s.resolve = resolve
}

// Tick runs one synchronization pass on the simulation goroutine.
func (s *Synchronizer) Tick() SyncResult {
	start := time.Now()

	if s.resolve == nil {
		instrumentInvariantViolation("tick without resolver")
		logs.Error(errors.New("synchronizer ticked without a connected resolver"))
		return SyncResult{Duration: time.Since(start)}
	}

	var res SyncResult
	s.source.EachDescriptor(func(id EntityID, d *Descriptor) bool {
		res.Tracked++

		if !s.index.Contains(id) {
			s.insert(id, d, &res)
			return true
		}

		forced := d.Dirty
		if !forced && d.Behavior != BehaviorDynamic {
			return true
		}

		pos, ok := s.resolve(id)
		if !ok {
			// The store no longer answers for this entity: implicit
			// despawn.
			s.index.Remove(id)
			res.Removed++
			logs.WithTag("entity_id", id).
				Debug("removing unresolvable entity from index")
			return true
		}

		res.Updated++
		d.Dirty = false

		if !forced {
			prev, known := s.index.PositionOf(id)
			if known && DistanceSq(prev, pos) <= s.DisplacementThreshold*s.DisplacementThreshold {
				return true
			}
		}

		if err := s.index.Relocate(id, pos); err != nil {
			logs.WithTag("entity_id", id).
				Error(errors.New("relocating entity failed").Wrap(err))
			return true
		}
		res.Relocated++
		return true
	})

	res.Duration = time.Since(start)
	if s.stats != nil {
		s.stats.RecordSync(res)
	}
	return res
}

func (s *Synchronizer) insert(id EntityID, d *Descriptor, res *SyncResult) {
	pos, ok := s.resolve(id)
	if !ok {
		// Not resolvable yet. Retried next tick.
		return
	}

	if err := s.index.Insert(id, pos, d.BoundingRadius, d.Layer); err != nil {
		logs.WithTag("entity_id", id).
			Error(errors.New("inserting entity failed").Wrap(err))
		return
	}

	d.setHome(pos)
	d.Dirty = false
	res.Added++
}
