package models

import "github.com/aukilabs/eihwaz/spatial"

// A connected debug client.
//
// The entity set records which entities the client spawned so they can be
// cleaned up at disconnect. It is only ever touched on the simulation
// goroutine, where spawn and despawn commands run.
type Client struct {
	ID string

	entityIDs map[spatial.EntityID]struct{}
}

func (c *Client) AddEntity(e *Entity) {
	if c.entityIDs == nil {
		c.entityIDs = make(map[spatial.EntityID]struct{})
	}
	c.entityIDs[e.ID] = struct{}{}
}

func (c *Client) RemoveEntity(e *Entity) {
	delete(c.entityIDs, e.ID)
}

func (c *Client) EntityIDs() map[spatial.EntityID]struct{} {
	return c.entityIDs
}
