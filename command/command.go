// Package command implements the bounded queue that carries asynchronous
// debug actions onto the simulation goroutine. Actors enqueue from any
// goroutine; the frame loop drains exactly once per frame and runs each
// command there, so commands never touch simulation state concurrently.
package command

import (
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/time/rate"
)

const (
	DefaultCapacity         = 256
	DefaultMutationInterval = 100 * time.Millisecond

	ErrTypeQueueFull = "queue_full"
)

// Kind splits commands into the two frame phases: mutations run before the
// index synchronizes, reads after, so reads always see a fully synchronized
// index.
type Kind int

const (
	KindRead Kind = iota
	KindMutate
)

func (k Kind) String() string {
	switch k {
	case KindMutate:
		return "mutate"
	default:
		return "read"
	}
}

// Command is one queued action. Run is a closure built at the enqueue site;
// whatever it needs, including a reply channel, travels inside it by value.
type Command struct {
	Name string
	Kind Kind
	Run  func()
}

// Queue is the bounded command queue. A full queue rejects instead of
// blocking: a stalled debug client must never stall the simulation.
type Queue struct {
	capacity int
	limiter  *rate.Limiter

	mutex   sync.Mutex
	pending []Command
}

// NewQueue returns a queue rejecting mutating boundary traffic more frequent
// than mutationInterval. A zero interval disables the limit.
func NewQueue(capacity int, mutationInterval time.Duration) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	limit := rate.Inf
	if mutationInterval > 0 {
		limit = rate.Every(mutationInterval)
	}

	return &Queue{
		capacity: capacity,
		limiter:  rate.NewLimiter(limit, 1),
	}
}

// AllowMutation consumes a slot from the mutation rate limiter. Service
// boundaries call it before queueing an externally requested mutation;
// internal mutations, such as disconnect cleanups, bypass it.
func (q *Queue) AllowMutation() bool {
	return q.limiter.Allow()
}

func (q *Queue) Enqueue(c Command) error {
	if c.Run == nil {
		return errors.New("command has no body").WithTag("command", c.Name)
	}

	q.mutex.Lock()
	defer q.mutex.Unlock()

	if len(q.pending) >= q.capacity {
		instrumentCommandRejected(c)
		return errors.New("command queue is full").
			WithType(ErrTypeQueueFull).
			WithTag("command", c.Name).
			WithTag("capacity", q.capacity)
	}

	q.pending = append(q.pending, c)
	instrumentCommandQueued(c, len(q.pending))
	return nil
}

// Drain removes and returns every pending command in enqueue order. Commands
// enqueued while a frame is in flight wait for the next drain.
func (q *Queue) Drain() []Command {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	pending := q.pending
	q.pending = nil
	instrumentCommandDrained()
	return pending
}

func (q *Queue) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.pending)
}
