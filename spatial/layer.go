package spatial

import "strings"

// Layer is a bitmask classifying entities into coarse categories. Queries
// filter on it: an entity matches when it shares at least one bit with the
// query mask.
type Layer uint32

const (
	LayerNone         Layer = 0x0000
	LayerPlayer       Layer = 0x0001
	LayerCreatures    Layer = 0x0002
	LayerTerrain      Layer = 0x0004
	LayerVegetation   Layer = 0x0008
	LayerWater        Layer = 0x0010
	LayerItems        Layer = 0x0020
	LayerProjectiles  Layer = 0x0040
	LayerTriggers     Layer = 0x0080
	LayerNPCs         Layer = 0x0100
	LayerBuildings    Layer = 0x0200
	LayerCollectibles Layer = 0x0400
	LayerParticles    Layer = 0x0800
	LayerUI           Layer = 0x1000
	LayerDebug        Layer = 0x2000
	LayerCamera       Layer = 0x4000
	LayerAll          Layer = 0xFFFFFFFF
)

// Common combinations used by behavior and culling consumers.
const (
	LayerInteractables = LayerPlayer | LayerCreatures | LayerItems | LayerNPCs | LayerCollectibles | LayerTriggers
	LayerEnvironment   = LayerTerrain | LayerVegetation | LayerWater | LayerBuildings
	LayerGameplay      = LayerPlayer | LayerCreatures | LayerItems | LayerProjectiles | LayerNPCs | LayerCollectibles
	LayerStatics       = LayerTerrain | LayerBuildings | LayerTriggers
	LayerDynamics      = LayerPlayer | LayerCreatures | LayerProjectiles | LayerItems | LayerParticles
)

// Matches reports whether the two masks share at least one bit.
func (l Layer) Matches(o Layer) bool {
	return l&o != 0
}

func (l Layer) With(o Layer) Layer {
	return l | o
}

func (l Layer) Without(o Layer) Layer {
	return l &^ o
}

func (l Layer) IsEmpty() bool {
	return l == LayerNone
}

func (l Layer) IsAll() bool {
	return l == LayerAll
}

var layerNames = []struct {
	bit  Layer
	name string
}{
	{LayerPlayer, "player"},
	{LayerCreatures, "creatures"},
	{LayerTerrain, "terrain"},
	{LayerVegetation, "vegetation"},
	{LayerWater, "water"},
	{LayerItems, "items"},
	{LayerProjectiles, "projectiles"},
	{LayerTriggers, "triggers"},
	{LayerNPCs, "npcs"},
	{LayerBuildings, "buildings"},
	{LayerCollectibles, "collectibles"},
	{LayerParticles, "particles"},
	{LayerUI, "ui"},
	{LayerDebug, "debug"},
	{LayerCamera, "camera"},
}

func (l Layer) String() string {
	if l.IsEmpty() {
		return "none"
	}
	if l.IsAll() {
		return "all"
	}

	var names []string
	for _, n := range layerNames {
		if l.Matches(n.bit) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "unknown"
	}
	return strings.Join(names, "|")
}
