package spatial

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// WorldConfig describes the fixed simulation volume and the octree tuning for
// it. Bounds never change for the lifetime of the process.
type WorldConfig struct {
	Name         string
	MinBounds    Vector3f
	MaxBounds    Vector3f
	MaxDepth     int
	NodeCapacity int
	MinNodeSize  float32
}

const (
	DefaultMaxDepth     = 8
	DefaultNodeCapacity = 16
	DefaultMinNodeSize  = 1.0
)

// DefaultWorld is the standard outdoor volume: 200 units square, from 10
// below the ground plane to 50 above it.
func DefaultWorld() WorldConfig {
	return WorldConfig{
		Name:         "default",
		MinBounds:    Vector3f{-100, -10, -100},
		MaxBounds:    Vector3f{100, 50, 100},
		MaxDepth:     DefaultMaxDepth,
		NodeCapacity: DefaultNodeCapacity,
		MinNodeSize:  DefaultMinNodeSize,
	}
}

// TestWorld is a small cube used by tests and local experiments.
func TestWorld() WorldConfig {
	return WorldConfig{
		Name:         "test",
		MinBounds:    Vector3f{-30, -30, -30},
		MaxBounds:    Vector3f{30, 30, 30},
		MaxDepth:     DefaultMaxDepth,
		NodeCapacity: DefaultNodeCapacity,
		MinNodeSize:  DefaultMinNodeSize,
	}
}

func (c WorldConfig) Bounds() Box {
	return NewBox(c.MinBounds, c.MaxBounds)
}

func (c WorldConfig) Validate() error {
	if c.MinBounds.X >= c.MaxBounds.X ||
		c.MinBounds.Y >= c.MaxBounds.Y ||
		c.MinBounds.Z >= c.MaxBounds.Z {
		return errors.New("world min bounds must be strictly below max bounds").
			WithTag("min_bounds", c.MinBounds).
			WithTag("max_bounds", c.MaxBounds)
	}

	if c.MaxDepth < 1 || c.MaxDepth > 20 {
		return errors.New("octree max depth out of range").
			WithTag("max_depth", c.MaxDepth).
			WithTag("valid_range", "1-20")
	}

	if c.NodeCapacity < 1 {
		return errors.New("octree node capacity must be positive").
			WithTag("node_capacity", c.NodeCapacity)
	}

	if c.MinNodeSize <= 0 {
		return errors.New("octree min node size must be positive").
			WithTag("min_node_size", c.MinNodeSize)
	}

	return nil
}
