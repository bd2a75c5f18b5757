// Package behavior hosts the creature detection system, an in-process
// consumer of the spatial query engine. Each tracked creature runs a small
// state machine reacting to player proximity.
package behavior

import (
	"math/rand"
	"time"

	"github.com/aukilabs/eihwaz/spatial"
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// Detection defaults, in world units and wall time.
const (
	DefaultDetectionRadius float32 = 15
	DefaultAlertRadius     float32 = 25
	DefaultFleeRadius      float32 = 8

	DefaultCheckInterval = time.Millisecond * 200
	DefaultAlertDuration = time.Second * 5
)

// Transition chances per update step.
const (
	idleToWanderChance = 0.01
	wanderToIdleChance = 0.005
)

const statsLogInterval = 300

// State is a creature's behavioral mode.
type State uint8

const (
	StateIdle State = iota
	StateWandering
	StateAlert
	StateFleeing
	StateAggressive
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWandering:
		return "wandering"
	case StateAlert:
		return "alert"
	case StateFleeing:
		return "fleeing"
	case StateAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// Temperament selects how a creature reacts to a detected player.
type Temperament uint8

const (
	TemperamentPeaceful Temperament = iota
	TemperamentNeutral
	TemperamentAggressive
)

func (t Temperament) String() string {
	switch t {
	case TemperamentPeaceful:
		return "peaceful"
	case TemperamentNeutral:
		return "neutral"
	case TemperamentAggressive:
		return "aggressive"
	default:
		return "unknown"
	}
}

// Creature tracks the detection state machine for one entity.
type Creature struct {
	ID     spatial.EntityID
	State  State
	Target spatial.EntityID

	Temperament     Temperament
	DetectionRadius float32
	AlertRadius     float32
	FleeRadius      float32

	sinceCheck time.Duration
	alertTimer time.Duration
}

// PassStats counts the work done by one update pass.
type PassStats struct {
	Processed    int
	Detections   int
	StateChanges int
}

// System drives the creature state machines against the query engine. Not
// safe for concurrent use: Step and Update run on the simulation goroutine.
type System struct {
	// Querier serves the proximity lookups.
	Querier spatial.Querier

	// Resolve reports creature positions. Creatures whose position cannot
	// be resolved anymore are dropped from the system.
	Resolve spatial.ResolveFunc

	// Rand drives the idle and wander transitions. Defaults to the shared
	// source.
	Rand *rand.Rand

	CheckInterval time.Duration
	AlertDuration time.Duration

	creatures map[spatial.EntityID]*Creature
	stats     PassStats
	lastStep  time.Time
	steps     int
}

// Add registers an entity with defaulted detection parameters and returns
// its creature record.
func (s *System) Add(id spatial.EntityID, temperament Temperament) *Creature {
	if s.creatures == nil {
		s.creatures = make(map[spatial.EntityID]*Creature)
	}

	c := &Creature{
		ID:              id,
		Temperament:     temperament,
		DetectionRadius: DefaultDetectionRadius,
		AlertRadius:     DefaultAlertRadius,
		FleeRadius:      DefaultFleeRadius,
	}
	s.creatures[id] = c
	return c
}

func (s *System) Remove(id spatial.EntityID) {
	delete(s.creatures, id)
}

func (s *System) Creature(id spatial.EntityID) (*Creature, bool) {
	c, ok := s.creatures[id]
	return c, ok
}

func (s *System) Len() int {
	return len(s.creatures)
}

// Stats reports the counters from the most recent update pass.
func (s *System) Stats() PassStats {
	return s.stats
}

// Step advances the system by the wall time elapsed since the previous step.
// Meant to be registered as a scene frame handler.
func (s *System) Step() {
	now := time.Now()
	if s.lastStep.IsZero() {
		s.lastStep = now
	}
	dt := now.Sub(s.lastStep)
	s.lastStep = now

	s.Update(dt)
}

// Update advances every creature state machine by dt.
func (s *System) Update(dt time.Duration) {
	s.stats = PassStats{Processed: len(s.creatures)}

	for id, c := range s.creatures {
		pos, ok := s.Resolve(c.ID)
		if !ok {
			delete(s.creatures, id)
			continue
		}
		s.updateCreature(c, pos, dt)
	}

	s.steps++
	if s.steps%statsLogInterval == 0 {
		logs.WithTag("creatures", s.stats.Processed).
			WithTag("detections", s.stats.Detections).
			WithTag("state_changes", s.stats.StateChanges).
			Debug("detection pass")
	}
}

func (s *System) updateCreature(c *Creature, pos spatial.Vector3f, dt time.Duration) {
	c.sinceCheck += dt
	c.alertTimer += dt

	interval := s.CheckInterval
	if interval <= 0 {
		interval = DefaultCheckInterval
	}

	if c.sinceCheck >= interval {
		c.sinceCheck = 0
		s.checkDetection(c, pos)
	}

	s.advanceState(c)
}

// checkDetection reacts to the nearest player in detection range. An
// aggressive creature calms down to alert when the range is empty.
func (s *System) checkDetection(c *Creature, pos spatial.Vector3f) {
	hits := s.Querier.QueryRadius(pos, c.DetectionRadius, spatial.LayerPlayer)

	var nearest spatial.Hit
	var found bool
	for _, h := range hits {
		if h.ID == c.ID {
			continue
		}
		nearest = h
		found = true
		break
	}

	if !found {
		if c.State == StateAggressive {
			s.setState(c, StateAlert)
			c.Target = 0
			c.alertTimer = 0
		}
		return
	}

	s.stats.Detections++
	s.react(c, nearest)
}

// react applies the temperament rules to the nearest detected player.
func (s *System) react(c *Creature, player spatial.Hit) {
	switch c.Temperament {
	case TemperamentPeaceful:
		if player.Distance <= c.FleeRadius {
			s.setState(c, StateFleeing)
			c.Target = player.ID
		} else if player.Distance <= c.AlertRadius {
			s.setState(c, StateAlert)
			c.Target = player.ID
			c.alertTimer = 0
		}

	case TemperamentNeutral:
		if player.Distance <= c.AlertRadius {
			s.setState(c, StateAlert)
			c.Target = player.ID
			c.alertTimer = 0
		}

	case TemperamentAggressive:
		if player.Distance <= c.DetectionRadius {
			s.setState(c, StateAggressive)
			c.Target = player.ID
		}
	}
}

// advanceState runs the time and chance driven transitions.
func (s *System) advanceState(c *Creature) {
	alertDuration := s.AlertDuration
	if alertDuration <= 0 {
		alertDuration = DefaultAlertDuration
	}

	switch c.State {
	case StateIdle:
		if s.randFloat() < idleToWanderChance {
			s.setState(c, StateWandering)
		}

	case StateWandering:
		if s.randFloat() < wanderToIdleChance {
			s.setState(c, StateIdle)
		}

	case StateAlert:
		if c.alertTimer >= alertDuration {
			s.setState(c, StateWandering)
			c.Target = 0
		}

	case StateFleeing:
		if c.alertTimer >= alertDuration/2 {
			s.setState(c, StateAlert)
		}
	}
}

func (s *System) setState(c *Creature, next State) {
	if c.State == next {
		return
	}
	c.State = next
	s.stats.StateChanges++
}

func (s *System) randFloat() float32 {
	if s.Rand != nil {
		return s.Rand.Float32()
	}
	return rand.Float32()
}
