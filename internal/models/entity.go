// Package models defines the core domain types: entities, snapshots,
// events, readings, correlations, alerts, and cycle logs.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies which upstream source an entity belongs to.
type Kind string

const (
	KindGame   Kind = "game"
	KindMarket Kind = "market"
)

// Status is the lifecycle state of an entity. Transitions are
// one-directional: scheduled -> live -> final.
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusFinal     Status = "final"
)

// ParseStatus maps an upstream status string to a Status, defaulting
// to unknown.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusScheduled, StatusLive, StatusFinal:
		return Status(s)
	default:
		return StatusUnknown
	}
}

var statusRank = map[Status]int{
	StatusUnknown:   0,
	StatusScheduled: 1,
	StatusLive:      2,
	StatusFinal:     3,
}

// Advances reports whether moving from one status to another follows
// the one-directional lifecycle. Re-observing the same status is
// allowed; going backwards is not.
func Advances(from, to Status) bool {
	return statusRank[to] >= statusRank[from]
}

// ValueKind discriminates the closed Value sum type.
type ValueKind int

const (
	ValueNumber ValueKind = iota
	ValueString
	ValueBool
)

// Value is a single typed field value. Adapters validate upstream
// payloads into Values so downstream code never sees untyped data.
type Value struct {
	Kind ValueKind `json:"kind"`
	Num  float64   `json:"num,omitempty"`
	Str  string    `json:"str,omitempty"`
	Bool bool      `json:"bool,omitempty"`
}

// Number wraps a float64 as a Value.
func Number(n float64) Value { return Value{Kind: ValueNumber, Num: n} }

// String wraps a string as a Value.
func String(s string) Value { return Value{Kind: ValueString, Str: s} }

// Boolean wraps a bool as a Value.
func Boolean(b bool) Value { return Value{Kind: ValueBool, Bool: b} }

// Equal reports whether two values have the same kind and content.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueNumber:
		return v.Num == o.Num
	case ValueString:
		return v.Str == o.Str
	default:
		return v.Bool == o.Bool
	}
}

// Fields is the generic attribute mapping of an entity (score, clock,
// price, ...). New entity kinds need no schema change.
type Fields map[string]Value

// Clone returns an independent copy of the mapping.
func (f Fields) Clone() Fields {
	c := make(Fields, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

// Entity is a live tracked object with a stable external identity.
// Entities with IsLive=false are excluded from poll cycles until
// explicitly reactivated.
type Entity struct {
	EntityID     string    `json:"entity_id"`
	Kind         Kind      `json:"kind"`
	IsLive       bool      `json:"is_live"`
	Status       Status    `json:"status"`
	Fields       Fields    `json:"fields"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Validate checks entity field constraints.
func (e *Entity) Validate() error {
	if e.EntityID == "" {
		return errors.New("entity ID must not be empty")
	}
	if e.Kind == "" {
		return errors.New("entity kind must not be empty")
	}
	switch e.Status {
	case StatusUnknown, StatusScheduled, StatusLive, StatusFinal:
	default:
		return fmt.Errorf("invalid status: %q", e.Status)
	}
	if e.LastSyncedAt.IsZero() {
		return errors.New("last synced timestamp must be set")
	}
	return nil
}

// Snapshot is an immutable copy of an entity's observed state at one
// sync timestamp. Only the most recent snapshot per entity is kept,
// in memory, as the diff baseline for the next cycle.
type Snapshot struct {
	EntityID string
	Kind     Kind
	Status   Status
	IsLive   bool
	Fields   Fields
	TakenAt  time.Time
}

// SecondaryReading is a timestamped value from a correlated market
// source, keyed by the market entity that produced it.
type SecondaryReading struct {
	MarketID   string    `json:"market_id"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	ObservedAt time.Time `json:"observed_at"`
}
