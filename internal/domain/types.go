package domain

import (
	"encoding/json"
	"time"
)

// Message is the persisted queue record as the store sees it. Ack and Deleted
// are optional on the wire; use StateAt to reason about them.
type Message struct {
	ID      string
	Payload json.RawMessage
	Visible time.Time
	Ack     string
	Tries   int
	Deleted *time.Time
}

// State is one of Available, Delayed, Leased or Done.
type State interface {
	state()
}

// Available messages can be leased now. Expired leases land here too.
type Available struct{}

// Delayed messages were never leased and are not visible yet.
type Delayed struct {
	Until time.Time
}

// Leased messages are in flight and owned by whoever holds Ack.
type Leased struct {
	Ack       string
	ExpiresAt time.Time
}

// Done messages were acknowledged. Terminal.
type Done struct {
	At time.Time
}

func (Available) state() {}
func (Delayed) state()   {}
func (Leased) state()    {}
func (Done) state()      {}

// StateAt classifies the record relative to now.
func (m Message) StateAt(now time.Time) State {
	switch {
	case m.Deleted != nil:
		return Done{At: *m.Deleted}
	case !m.Visible.After(now):
		return Available{}
	case m.Ack != "":
		return Leased{Ack: m.Ack, ExpiresAt: m.Visible}
	default:
		return Delayed{Until: m.Visible}
	}
}

// Delivery is the view of a leased message handed to consumers.
type Delivery struct {
	ID      string          `json:"id"`
	Ack     string          `json:"ack"`
	Payload json.RawMessage `json:"payload"`
	Tries   int             `json:"tries"`
}

// Stats is a point-in-time breakdown of a queue.
type Stats struct {
	Total    int64 `json:"total"`
	Size     int64 `json:"size"`
	InFlight int64 `json:"in_flight"`
	Done     int64 `json:"done"`
	Delayed  int64 `json:"delayed"`
}

// Consistent reports whether the buckets add up to Total.
func (s Stats) Consistent() bool {
	return s.Size+s.InFlight+s.Done+s.Delayed == s.Total
}
