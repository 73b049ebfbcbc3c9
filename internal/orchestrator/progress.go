package orchestrator

import (
	log "github.com/sirupsen/logrus"
)

// Activity identifiers let a renderer correlate the outer lab stream with the
// nested wait stream of a single batch.
const (
	ActivityLab  = 42
	ActivityWait = 43
)

// Op names the lab operation an event or result belongs to.
type Op string

const (
	OpStart      Op = "start"
	OpStop       Op = "stop"
	OpCheckpoint Op = "checkpoint"
	OpRestore    Op = "restore"
	OpReset      Op = "reset"
)

// EventKind distinguishes the progress streams.
type EventKind string

const (
	KindGroup     EventKind = "group"      // a batch was issued: Current/Total batches
	KindWait      EventKind = "wait"       // one second of a batch delay elapsed
	KindNode      EventKind = "node"       // one node was handled: Current/Total nodes
	KindNodeError EventKind = "node-error" // one node failed; Err is set
	KindDone      EventKind = "done"       // terminal event, always emitted
)

// Event is one progress notification.
type Event struct {
	ActivityID int       `json:"activity_id"`
	ParentID   int       `json:"parent_id,omitempty"`
	Op         Op        `json:"op"`
	Kind       EventKind `json:"kind"`
	Current    int       `json:"current"`
	Total      int       `json:"total"`
	Failed     int       `json:"failed,omitempty"`
	Nodes      []string  `json:"nodes,omitempty"`
	Message    string    `json:"message,omitempty"`
	Err        error     `json:"-"`
}

// Percent is Current/Total as 0..100. An empty stream counts as complete.
func (e Event) Percent() int {
	if e.Total <= 0 {
		return 100
	}
	return e.Current * 100 / e.Total
}

// ProgressSink receives progress events. Implementations must not block for long:
// they are called inline by the orchestrator.
type ProgressSink interface {
	Progress(Event)
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(Event)

// Progress calls f.
func (f SinkFunc) Progress(e Event) { f(e) }

// DiscardSink drops every event.
var DiscardSink ProgressSink = SinkFunc(func(Event) {})

// MultiSink fans events out to several sinks in order.
type MultiSink []ProgressSink

// Progress forwards e to every sink.
func (m MultiSink) Progress(e Event) {
	for _, s := range m {
		if s != nil {
			s.Progress(e)
		}
	}
}

// LogSink writes events to a logrus logger. Wait ticks go to debug.
type LogSink struct {
	Log *log.Entry
}

// Progress logs e.
func (s LogSink) Progress(e Event) {
	entry := s.Log.WithFields(log.Fields{
		"activity": e.ActivityID,
		"op":       e.Op,
		"kind":     e.Kind,
		"current":  e.Current,
		"total":    e.Total,
		"percent":  e.Percent(),
	})
	if len(e.Nodes) > 0 {
		entry = entry.WithField("nodes", e.Nodes)
	}

	switch e.Kind {
	case KindWait:
		entry.Debug(e.Message)
	case KindNodeError:
		entry.WithField("error", e.Err).Error(e.Message)
	default:
		entry.Info(e.Message)
	}
}
