// Package domain defines the core persistent entities, row parsing and
// formatting rules, and operation outcome types used by ticketcore.
package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used for persistence buckets and journal events.
const (
	// EntityUser identifies a registered user record.
	EntityUser EntityType = "user"
	// EntityAssignment identifies a ticket reservation record.
	EntityAssignment EntityType = "assignment"
	// EntitySale identifies an active sale record.
	EntitySale EntityType = "sale"
	// EntityReturn identifies an immutable return audit record.
	EntityReturn EntityType = "return"
)

// TimestampLayout is the wire format for all persisted instants: UTC RFC 3339
// truncated to seconds.
const TimestampLayout = "2006-01-02T15:04:05Z"

// FormatTimestamp renders t in the persisted timestamp layout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}

// ParseTimestamp parses a persisted timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampLayout, s)
}

// Canon normalizes a display name for case-insensitive comparison.
func Canon(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// User is a registered actor identified by a stable external id and a unique
// (case-insensitive) display name. Users are never mutated after registration
// except by administrative full reset.
type User struct {
	ID       int64  `json:"user_id"`
	Name     string `json:"user_name"`
	FullName string `json:"full_name"`
}

// Assignment reserves a ticket for one owner before it is sold. A ticket
// appears in at most one assignment row at a time; the assigning operation,
// not storage, enforces that.
type Assignment struct {
	Owner  string `json:"owner"`
	Ticket int    `json:"ticket"`
}

// Sale is the active record of a ticket sold to a buyer. A ticket has at most
// one active sale; recording a return removes the row rather than flagging it.
// ReturnedBy is carried as a schema column for lineage with the historical
// sales table and stays empty while the sale is active.
type Sale struct {
	Ticket     int       `json:"ticket"`
	BuyerID    int64     `json:"buyer_id"`
	BuyerName  string    `json:"buyer_name"`
	Timestamp  time.Time `json:"timestamp"`
	ReturnedBy string    `json:"returned_by,omitempty"`
}

// Return is the immutable audit record of a previously sold ticket being
// given back. Returns are only ever appended.
type Return struct {
	Ticket     int       `json:"ticket"`
	BuyerID    int64     `json:"buyer_id"`
	BuyerName  string    `json:"buyer_name"`
	ReturnedBy string    `json:"returned_by"`
	Timestamp  time.Time `json:"timestamp"`
}

// SaleKey is the natural replay key of a sale event.
type SaleKey struct {
	BuyerID   int64
	BuyerName string
	Ticket    int
}

// Key returns the replay key for s.
func (s Sale) Key() SaleKey {
	return SaleKey{BuyerID: s.BuyerID, BuyerName: s.BuyerName, Ticket: s.Ticket}
}

// ReturnKey is the natural replay key of a return event.
type ReturnKey struct {
	BuyerID   int64
	BuyerName string
	Ticket    int
	Timestamp string
}

// Key returns the replay key for r.
func (r Return) Key() ReturnKey {
	return ReturnKey{BuyerID: r.BuyerID, BuyerName: r.BuyerName, Ticket: r.Ticket, Timestamp: FormatTimestamp(r.Timestamp)}
}

var rangeRe = regexp.MustCompile(`^\s*(\d+)\s*-\s*(\d+)\s*$`)

// TicketRange is the inclusive valid ticket numbering window, persisted as a
// single "start-end" line in the range marker file.
type TicketRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Contains reports whether ticket lies inside the window.
func (r TicketRange) Contains(ticket int) bool {
	return ticket >= r.Start && ticket <= r.End
}

// String renders the range in marker-file form.
func (r TicketRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// NewTicketRange builds a normalized range regardless of argument order.
func NewTicketRange(a, b int) TicketRange {
	if a > b {
		a, b = b, a
	}
	return TicketRange{Start: a, End: b}
}

// ParseTicketRange parses a "start-end" marker line, normalizing order.
func ParseTicketRange(s string) (TicketRange, error) {
	m := rangeRe.FindStringSubmatch(s)
	if m == nil {
		return TicketRange{}, fmt.Errorf("invalid ticket range %q", strings.TrimSpace(s))
	}
	a, err := strconv.Atoi(m[1])
	if err != nil {
		return TicketRange{}, fmt.Errorf("invalid ticket range %q: %w", s, err)
	}
	b, err := strconv.Atoi(m[2])
	if err != nil {
		return TicketRange{}, fmt.Errorf("invalid ticket range %q: %w", s, err)
	}
	return NewTicketRange(a, b), nil
}
