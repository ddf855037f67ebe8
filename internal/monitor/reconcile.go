package monitor

import (
	"context"
	"strings"

	"github.com/biostacklabs/reactorcore/internal/model"
	"github.com/biostacklabs/reactorcore/internal/pubsub"
	"github.com/biostacklabs/reactorcore/internal/store"
)

// ProcessRegistry is the subset of store.IntermittentCache the
// reconciler needs: the local jobsRunning cache every job.New checks
// against before starting, keyed by job name.
type ProcessRegistry interface {
	Keys() []string
}

var _ ProcessRegistry = (*store.IntermittentCache)(nil)

// Reconciler implements spec.md §4.K item 1: on startup, any job whose
// $state is retained on the bus but that isn't in the local process
// listing died without a clean disconnect (its last-will never fired,
// or fired before this node restarted) and must be marked LOST.
type Reconciler struct {
	bus       *pubsub.Bus
	processes ProcessRegistry

	seen map[string]bool
}

func NewReconciler(bus *pubsub.Bus, processes ProcessRegistry) *Reconciler {
	return &Reconciler{bus: bus, processes: processes, seen: make(map[string]bool)}
}

// Run subscribes to every job's retained $state under this node's own
// unit/experiment, waits for the broker to deliver the retained set,
// then publishes LOST for any job state present on the bus that isn't
// a live local process.
func (r *Reconciler) Run(ctx context.Context, settle func()) error {
	wildcard := r.bus.Topic()
	wildcard.Job = "+"
	filter := wildcard.State()

	if err := r.bus.SubscribeRaw(filter, pubsub.AtLeastOnce, func(topic string, payload []byte, retained bool) {
		job := jobFromStateTopic(topic)
		if job == "" {
			return
		}
		r.seen[job] = true
	}); err != nil {
		return err
	}

	if settle != nil {
		settle()
	}

	live := make(map[string]bool)
	for _, name := range r.processes.Keys() {
		live[name] = true
	}

	for job := range r.seen {
		if !live[job] {
			jobTopic := r.bus.Topic()
			jobTopic.Job = job
			_ = r.bus.PublishRaw(ctx, jobTopic.State(), []byte(model.StateLost), pubsub.ExactlyOnce, true)
		}
	}
	return nil
}

// jobFromStateTopic extracts "<job>" from a "<ns>/<unit>/<exp>/<job>/$state"
// topic string.
func jobFromStateTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[len(parts)-1] != "$state" {
		return ""
	}
	return parts[len(parts)-2]
}
