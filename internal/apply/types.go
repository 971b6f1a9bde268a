// Package apply tracks which resolved flags have been exposed to the end user
// and reports each (resolve token, flag) pair to the backend exactly once,
// surviving process restarts.
package apply

import (
	"context"
	"time"
)

// Status is the delivery state of an apply entry.
// Entries move CREATED -> SENDING -> SENT, and back to CREATED on a failed send.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusSending Status = "SENDING"
	StatusSent    Status = "SENT"
)

// Entry is the persisted state of one (token, flag) pair.
type Entry struct {
	Time   time.Time `json:"time"`
	Status Status    `json:"eventStatus"`
}

// Snapshot maps resolve token -> flag name -> entry.
// It is also the persisted JSON layout.
type Snapshot map[string]map[string]Entry

// Clone deep-copies the two map levels.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for token, flags := range s {
		inner := make(map[string]Entry, len(flags))
		for name, e := range flags {
			inner[name] = e
		}
		out[token] = inner
	}
	return out
}

// Count returns the number of entries across all tokens.
func (s Snapshot) Count() int {
	n := 0
	for _, flags := range s {
		n += len(flags)
	}
	return n
}

// AppliedFlag is one element of an apply call.
type AppliedFlag struct {
	Flag      string
	ApplyTime time.Time
}

// Client sends apply calls to the backend. A nil error means the backend
// acknowledged every flag in the call.
type Client interface {
	Apply(ctx context.Context, flags []AppliedFlag, resolveToken string) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, flags []AppliedFlag, resolveToken string) error

func (f ClientFunc) Apply(ctx context.Context, flags []AppliedFlag, resolveToken string) error {
	return f(ctx, flags, resolveToken)
}
