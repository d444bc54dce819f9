// Package model defines the core memory data types.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the hierarchy level of a fragment. Tiers are ordered and a
// fragment only ever moves to a higher one.
type Tier int

const (
	TierWorking Tier = iota
	TierShortTerm
	TierLongTerm
)

// AllTiers lists every tier in ascending order.
var AllTiers = []Tier{TierWorking, TierShortTerm, TierLongTerm}

func (t Tier) String() string {
	switch t {
	case TierWorking:
		return "WORKING"
	case TierShortTerm:
		return "SHORT_TERM"
	case TierLongTerm:
		return "LONG_TERM"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t >= TierWorking && t <= TierLongTerm
}

// Next returns the tier one step up. LONG_TERM returns itself.
func (t Tier) Next() Tier {
	if t >= TierLongTerm {
		return TierLongTerm
	}
	return t + 1
}

func (t Tier) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tier %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	p, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = p
	return nil
}

// ParseTier parses a tier name. Matching is case-insensitive and accepts
// "short-term" as well as "SHORT_TERM".
func ParseTier(s string) (Tier, error) {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")) {
	case "WORKING":
		return TierWorking, nil
	case "SHORT_TERM":
		return TierShortTerm, nil
	case "LONG_TERM":
		return TierLongTerm, nil
	}
	return 0, fmt.Errorf("unknown tier %q", s)
}

// Category classifies the event a fragment was ingested from.
type Category string

const (
	CategoryChat         Category = "CHAT"
	CategoryAction       Category = "ACTION"
	CategoryEvent        Category = "EVENT"
	CategoryRelationship Category = "RELATIONSHIP"
	CategoryContext      Category = "CONTEXT"
)

// ValidCategories are the allowed fragment categories.
var ValidCategories = map[Category]bool{
	CategoryChat:         true,
	CategoryAction:       true,
	CategoryEvent:        true,
	CategoryRelationship: true,
	CategoryContext:      true,
}

// EmbeddingStatus tracks the lifecycle of a fragment's dense vector.
type EmbeddingStatus string

const (
	EmbeddingPending  EmbeddingStatus = "pending"
	EmbeddingReady    EmbeddingStatus = "ready"
	EmbeddingDegraded EmbeddingStatus = "degraded"
)

const (
	MinImportance     = 1.0
	MaxImportance     = 10.0
	DefaultImportance = 5.0
	MinEmotion        = -10.0
	MaxEmotion        = 10.0
)

// Fragment is a single stored memory owned by one persona.
type Fragment struct {
	ID              string             `json:"id"`
	PersonaID       string             `json:"persona_id"`
	Content         string             `json:"content"`
	Embedding       []float32          `json:"embedding,omitempty"`
	EmbeddingStatus EmbeddingStatus    `json:"embedding_status"`
	Sparse          map[string]float64 `json:"sparse,omitempty"`
	Entities        []string           `json:"entities,omitempty"`
	Tier            Tier               `json:"tier"`
	Category        Category           `json:"category"`
	Source          string             `json:"source,omitempty"`
	UserID          string             `json:"user_id,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
	Importance      float64            `json:"importance"`
	BaseImportance  float64            `json:"base_importance"`
	EmotionalImpact float64            `json:"emotional_impact"`
	AccessCount     int                `json:"access_count"`
	LastAccessed    *time.Time         `json:"last_accessed,omitempty"`
	Version         int64              `json:"version"`
}

// Degraded reports whether the fragment has no usable dense vector and
// must be matched on sparse features alone.
func (f *Fragment) Degraded() bool {
	return f.EmbeddingStatus == EmbeddingDegraded
}

// Persona is a memory namespace with a fixed embedding dimension.
type Persona struct {
	ID        string    `json:"id"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

// Link is a directed relation between two fragments.
type Link struct {
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	Rel       string    `json:"rel"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidRels are the allowed link relations.
var ValidRels = map[string]bool{
	"relates_to":  true,
	"contradicts": true,
	"depends_on":  true,
	"refines":     true,
}
