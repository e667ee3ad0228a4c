package engine

import "fmt"

// Stats is a snapshot of the engine's counters. Counters are cumulative
// since construction; sizes reflect the moment of the snapshot.
type Stats struct {
	Activations         int // archetype triggers recorded
	Trials              int // Bernoulli trials run
	Scheduled           int // responses placed on the queue
	Conversations       int // conversations executed
	DuplicatesDropped   int // executions suppressed by id collision
	Expired             int // conversations aged out
	LayerFires          int // layer rule emissions
	Sweeps              int // cleanup/evaluation passes
	PendingTasks        int
	ActiveConversations int
	HistorySize         int
}

func (s Stats) String() string {
	return fmt.Sprintf(
		"activations=%d trials=%d scheduled=%d conversations=%d dropped=%d expired=%d layer_fires=%d sweeps=%d pending=%d active=%d history=%d",
		s.Activations, s.Trials, s.Scheduled, s.Conversations, s.DuplicatesDropped,
		s.Expired, s.LayerFires, s.Sweeps, s.PendingTasks, s.ActiveConversations, s.HistorySize)
}
