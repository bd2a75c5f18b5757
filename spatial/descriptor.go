package spatial

import "time"

// EntityID identifies a simulated entity. The index stores nothing about an
// entity beyond its id and the entry bookkeeping it needs to answer queries.
type EntityID uint32

// Behavior tells the synchronizer how often an entity position must be
// re-evaluated.
type Behavior uint8

const (
	// Indexed once at insertion, never re-evaluated.
	BehaviorStatic Behavior = iota

	// Re-evaluated every tick.
	BehaviorDynamic

	// Re-evaluated only when the dirty flag is set.
	BehaviorOccasional
)

func (b Behavior) String() string {
	switch b {
	case BehaviorStatic:
		return "static"
	case BehaviorDynamic:
		return "dynamic"
	case BehaviorOccasional:
		return "occasional"
	default:
		return "unknown"
	}
}

// ResolveFunc maps an entity id to its current authoritative position. It is
// supplied by the entity store and must never mutate the index it serves.
// The ok result is false when the store no longer knows the entity.
type ResolveFunc func(id EntityID) (Vector3f, bool)

// DescriptorSource iterates the descriptors of all entities participating in
// spatial indexing. Iteration stops when the callback returns false.
type DescriptorSource interface {
	EachDescriptor(func(id EntityID, d *Descriptor) bool)
}

// Descriptor is the per-entity spatial metadata. It is owned by the entity
// store and only ever touched on the simulation goroutine.
type Descriptor struct {
	// Sphere approximation of the entity extent.
	BoundingRadius float32

	Behavior Behavior

	// Query filtering mask the entity is indexed under.
	Layer Layer

	// Domain radii stored here for locality. Consumed by behavior systems,
	// ignored by the index.
	DetectionRadius float32
	TerritoryRadius float32

	// Set the first time the entity enters the index.
	HomePosition Vector3f

	// Forces re-evaluation on the next tick regardless of behavior.
	Dirty bool

	// Informational query throttling, maintained by consumers. The index
	// never reads these.
	QueryCount         uint64
	TimeSinceLastQuery time.Duration

	homeSet bool
}

const (
	DefaultDetectionRadius = 15.0
	DefaultTerritoryRadius = 25.0
)

// NewDescriptor returns a descriptor with the domain radii defaults.
func NewDescriptor(boundingRadius float32, behavior Behavior) *Descriptor {
	return &Descriptor{
		BoundingRadius:  boundingRadius,
		Behavior:        behavior,
		DetectionRadius: DefaultDetectionRadius,
		TerritoryRadius: DefaultTerritoryRadius,
	}
}

func (d *Descriptor) MarkDirty() {
	d.Dirty = true
}

// setHome records the home position once. Later calls are no-ops.
func (d *Descriptor) setHome(p Vector3f) {
	if d.homeSet {
		return
	}
	d.HomePosition = p
	d.homeSet = true
}
