package domain

import (
	"errors"
	"testing"
	"time"
)

func TestUserRowRoundTrip(t *testing.T) {
	u := User{ID: 42, Name: "ana", FullName: "Ana Diaz"}
	row := u.FormatRow()
	got, err := ParseUserRow(row)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != u {
		t.Fatalf("round trip mismatch: %+v != %+v", got, u)
	}
}

func TestParseUserRowRejectsBadInput(t *testing.T) {
	cases := [][]string{
		{"42", "ana"},                 // arity
		{"x", "ana", "Ana"},           // non-integer id
		{"42", "", "Ana"},             // empty name
		{"42", "ana", "Ana", "extra"}, // arity
	}
	for _, fields := range cases {
		if _, err := ParseUserRow(fields); err == nil {
			t.Errorf("expected parse error for %v", fields)
		} else {
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Errorf("want *ParseError for %v, got %T", fields, err)
			}
		}
	}
}

func TestSaleRowRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 30, 15, 0, time.UTC)
	s := Sale{Ticket: 1750, BuyerID: 7, BuyerName: "ana", Timestamp: ts}
	got, err := ParseSaleRow(s.FormatRow())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != s {
		t.Fatalf("round trip mismatch: %+v != %+v", got, s)
	}
}

func TestParseSaleRowAcceptsLegacyArity(t *testing.T) {
	// Rows written before the returned_by column existed have four fields.
	got, err := ParseSaleRow([]string{"9", "3", "luis", "2024-05-01T00:00:00Z"})
	if err != nil {
		t.Fatalf("parse legacy row: %v", err)
	}
	if got.Ticket != 9 || got.BuyerID != 3 || got.ReturnedBy != "" {
		t.Fatalf("unexpected sale %+v", got)
	}
}

func TestReturnRowRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	r := Return{Ticket: 12, BuyerID: 7, BuyerName: "ana", ReturnedBy: "ana", Timestamp: ts}
	got, err := ParseReturnRow(r.FormatRow())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != r {
		t.Fatalf("round trip mismatch: %+v != %+v", got, r)
	}
}

func TestAssignmentRowRejectsNonNumericTicket(t *testing.T) {
	if _, err := ParseAssignmentRow([]string{"ana", "abc"}); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestHeaderFor(t *testing.T) {
	for _, table := range []string{TableUsers, TableAssignments, TableSales, TableReturns} {
		if _, ok := HeaderFor(table); !ok {
			t.Errorf("missing header for %s", table)
		}
	}
	if _, ok := HeaderFor("bogus"); ok {
		t.Error("unexpected header for unknown table")
	}
}

func TestParseTicketRange(t *testing.T) {
	r, err := ParseTicketRange(" 1000 - 1 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if r.Start != 1 || r.End != 1000 {
		t.Fatalf("range not normalized: %+v", r)
	}
	if !r.Contains(1) || !r.Contains(1000) || r.Contains(1001) {
		t.Fatalf("contains misbehaves for %+v", r)
	}
	if _, err := ParseTicketRange("1..5"); err == nil {
		t.Fatal("expected error for malformed range")
	}
}

func TestCanon(t *testing.T) {
	if Canon("  Ana ") != "ana" {
		t.Fatalf("canon mismatch: %q", Canon("  Ana "))
	}
}

func TestTimestampRoundTrip(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 999, time.UTC)
	s := FormatTimestamp(now)
	got, err := ParseTimestamp(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !got.Equal(now.Truncate(time.Second)) {
		t.Fatalf("timestamp mismatch: %v != %v", got, now)
	}
}
