// Package models defines the domain types for the knowledge base.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Priorities applicable to task-like items.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// DefaultStatus is assigned when a task-like item is created without one.
const DefaultStatus = "Open"

// Item is the central entity: one durable record in the knowledge base.
// ID is unique only within Type; the composite "type-id" string is the
// universal reference form.
type Item struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Content     string    `json:"content"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Tags        []string  `json:"tags"`
	Related     []string  `json:"related"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Ref returns the composite "type-id" reference for the item.
func (it *Item) Ref() string {
	return it.Type + "-" + it.ID
}

// ItemSummary is the list projection of an item: every scalar field is
// mirrored but the body content is omitted. Callers needing the full
// content use the single-item read path, which decodes the durable record.
type ItemSummary struct {
	Type        string    `json:"type"`
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Priority    string    `json:"priority"`
	Status      string    `json:"status"`
	Tags        []string  `json:"tags"`
	Related     []string  `json:"related"`
	StartDate   string    `json:"start_date,omitempty"`
	EndDate     string    `json:"end_date,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Status is a named workflow state. Closed statuses are excluded from
// default listings.
type Status struct {
	Name   string `json:"name"`
	Closed bool   `json:"is_closed"`
}

// Statuses returns the status vocabulary in display order.
func Statuses() []Status {
	return []Status{
		{Name: "Open"},
		{Name: "In Progress"},
		{Name: "Review"},
		{Name: "On Hold"},
		{Name: "Completed", Closed: true},
		{Name: "Closed", Closed: true},
		{Name: "Canceled", Closed: true},
	}
}

// ClosedStatuses returns the names of all closed statuses.
func ClosedStatuses() []string {
	var out []string
	for _, s := range Statuses() {
		if s.Closed {
			out = append(out, s.Name)
		}
	}
	return out
}

// IsClosedStatus reports whether name belongs to the closed subset.
func IsClosedStatus(name string) bool {
	for _, s := range Statuses() {
		if s.Closed && s.Name == name {
			return true
		}
	}
	return false
}

// ValidPriority reports whether p is one of high/medium/low.
func ValidPriority(p string) bool {
	return p == PriorityHigh || p == PriorityMedium || p == PriorityLow
}

// NormalizeTags trims whitespace, drops empties, and removes duplicates
// while preserving first-seen order. Case is preserved.
func NormalizeTags(tags []string) []string {
	out := []string{}
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NormalizeRelated deduplicates composite references, rejecting empty
// entries and any reference equal to self ("type-id" of the item itself).
func NormalizeRelated(related []string, self string) ([]string, error) {
	out := []string{}
	seen := make(map[string]struct{}, len(related))
	for _, r := range related {
		r = strings.TrimSpace(r)
		if r == "" {
			return nil, fmt.Errorf("related contains an empty reference")
		}
		if r == self {
			return nil, fmt.Errorf("item %s cannot reference itself", self)
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out, nil
}
