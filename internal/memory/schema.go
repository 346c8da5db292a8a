package memory

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a stored memory or belief.
type Status string

const (
	StatusProvisional Status = "provisional"
	StatusActive      Status = "active"
	StatusArchived    Status = "archived"
)

// Scope names a table of ranked items.
type Scope string

const (
	ScopeMemories Scope = "memories"
	ScopeBeliefs  Scope = "beliefs"
)

// SharedNamespace is the owner id of memories visible to every agent.
const SharedNamespace = "__shared__"

// Item is the subset of a memory or belief row the ranking code reads.
// Pointer fields are nil when the column is NULL.
type Item struct {
	ID              string     `json:"id"`
	AgentID         string     `json:"agent_id"`
	Content         string     `json:"content"`
	Category        string     `json:"category,omitempty"`
	Confidence      *float64   `json:"confidence,omitempty"`
	Importance      *float64   `json:"importance,omitempty"`
	DecayRate       *float64   `json:"decay_rate,omitempty"`
	AccessCount     int        `json:"access_count"`
	CreatedAt       *time.Time `json:"created_at,omitempty"`
	LastAccessed    *time.Time `json:"last_accessed,omitempty"`
	Status          Status     `json:"status"`
	ActivationScore float64    `json:"activation_score"`
	EvidenceFor     string     `json:"evidence_for,omitempty"`
	EvidenceAgainst string     `json:"evidence_against,omitempty"`
}

// LowEvidence reports whether neither evidence field carries anything.
func (it Item) LowEvidence() bool {
	return strings.TrimSpace(it.EvidenceFor) == "" && strings.TrimSpace(it.EvidenceAgainst) == ""
}

// Stale reports whether the item was never accessed or not within maxAge.
func (it Item) Stale(now time.Time, maxAge time.Duration) bool {
	if it.LastAccessed == nil {
		return true
	}
	return now.Sub(*it.LastAccessed) > maxAge
}

// Ranked pairs an item with the score a strategy gave it.
type Ranked struct {
	Item  Item    `json:"item"`
	Score float64 `json:"score"`
}

var localLayouts = []string{
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTime accepts the timestamp shapes found in the store. Anything it
// cannot read is reported as missing. Zone-less values are taken as UTC.
func ParseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t = t.UTC()
		return &t
	}
	s = strings.TrimSuffix(strings.Replace(s, "T", " ", 1), "Z")
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}

// StoredLayout is the fixed-width UTC layout timestamps are written in, so
// text ordering matches time ordering.
const StoredLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t the way the store writes timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(StoredLayout)
}

func valueOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
