// Package invalidation defines the dataset invalidation event carried on the
// message bus.
package invalidation

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	// OpPurge drops the dataset; the next request refills it.
	OpPurge = "purge"
	// OpRefresh drops the dataset and refills it right away.
	OpRefresh = "refresh"
)

type Event struct {
	// Key targets one dataset; empty means whichever dataset the consumer owns.
	Key     string    `json:"key,omitempty"`
	Version uint64    `json:"version"`
	Op      string    `json:"op"`
	TS      time.Time `json:"ts"`
	Source  string    `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version < 1 {
		return errors.New("version must be >= 1")
	}
	switch e.Op {
	case OpPurge, OpRefresh:
	default:
		return fmt.Errorf("op must be %s|%s", OpPurge, OpRefresh)
	}
	if e.TS.IsZero() {
		return errors.New("ts is required")
	}
	return nil
}

// Decode parses and validates one event payload.
func Decode(b []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(b, &ev); err != nil {
		return Event{}, fmt.Errorf("decode: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return Event{}, fmt.Errorf("validate: %w", err)
	}
	return ev, nil
}
