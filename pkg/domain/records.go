package domain

import (
	"fmt"
	"strconv"
)

// Snapshot table names. These double as persistence bucket identifiers for
// the non-CSV snapshot backends.
const (
	TableUsers       = "users"
	TableAssignments = "assignments"
	TableSales       = "sales"
	TableReturns     = "returns"
)

// Snapshot header rows, in canonical column order. Parsing and formatting
// below follow these orders exactly.
var (
	UserHeader       = []string{"user_id", "user_name", "full_name"}
	AssignmentHeader = []string{"owner", "ticket"}
	SaleHeader       = []string{"ticket", "buyer_id", "buyer_name", "timestamp", "returned_by"}
	ReturnHeader     = []string{"ticket", "buyer_id", "buyer_name", "returned_by", "timestamp"}
)

// HeaderFor returns the canonical header for a known table name.
func HeaderFor(table string) ([]string, bool) {
	switch table {
	case TableUsers:
		return UserHeader, true
	case TableAssignments:
		return AssignmentHeader, true
	case TableSales:
		return SaleHeader, true
	case TableReturns:
		return ReturnHeader, true
	default:
		return nil, false
	}
}

// ParseError reports a row that cannot be parsed into a typed record. Callers
// replaying persisted state must skip and count these rather than abort.
type ParseError struct {
	Table  string
	Fields []string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s row %v: %s", e.Table, e.Fields, e.Reason)
}

func parseErr(table string, fields []string, format string, args ...any) *ParseError {
	return &ParseError{Table: table, Fields: fields, Reason: fmt.Sprintf(format, args...)}
}

// ParseUserRow parses an ordered field sequence into a User.
func ParseUserRow(fields []string) (User, error) {
	if len(fields) != len(UserHeader) {
		return User{}, parseErr(TableUsers, fields, "want %d fields, got %d", len(UserHeader), len(fields))
	}
	id, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return User{}, parseErr(TableUsers, fields, "user_id: %v", err)
	}
	if fields[1] == "" {
		return User{}, parseErr(TableUsers, fields, "empty user_name")
	}
	return User{ID: id, Name: fields[1], FullName: fields[2]}, nil
}

// FormatRow renders the user in canonical column order. Formatting is total.
func (u User) FormatRow() []string {
	return []string{strconv.FormatInt(u.ID, 10), u.Name, u.FullName}
}

// ParseAssignmentRow parses an ordered field sequence into an Assignment.
func ParseAssignmentRow(fields []string) (Assignment, error) {
	if len(fields) != len(AssignmentHeader) {
		return Assignment{}, parseErr(TableAssignments, fields, "want %d fields, got %d", len(AssignmentHeader), len(fields))
	}
	if fields[0] == "" {
		return Assignment{}, parseErr(TableAssignments, fields, "empty owner")
	}
	ticket, err := strconv.Atoi(fields[1])
	if err != nil {
		return Assignment{}, parseErr(TableAssignments, fields, "ticket: %v", err)
	}
	return Assignment{Owner: fields[0], Ticket: ticket}, nil
}

// FormatRow renders the assignment in canonical column order.
func (a Assignment) FormatRow() []string {
	return []string{a.Owner, strconv.Itoa(a.Ticket)}
}

// ParseSaleRow parses an ordered field sequence into a Sale. A trailing
// returned_by column is optional for rows written before the column existed.
func ParseSaleRow(fields []string) (Sale, error) {
	if len(fields) != len(SaleHeader) && len(fields) != len(SaleHeader)-1 {
		return Sale{}, parseErr(TableSales, fields, "want %d or %d fields, got %d", len(SaleHeader)-1, len(SaleHeader), len(fields))
	}
	ticket, err := strconv.Atoi(fields[0])
	if err != nil {
		return Sale{}, parseErr(TableSales, fields, "ticket: %v", err)
	}
	buyerID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Sale{}, parseErr(TableSales, fields, "buyer_id: %v", err)
	}
	ts, err := ParseTimestamp(fields[3])
	if err != nil {
		return Sale{}, parseErr(TableSales, fields, "timestamp: %v", err)
	}
	sale := Sale{Ticket: ticket, BuyerID: buyerID, BuyerName: fields[2], Timestamp: ts}
	if len(fields) == len(SaleHeader) {
		sale.ReturnedBy = fields[4]
	}
	return sale, nil
}

// FormatRow renders the sale in canonical column order.
func (s Sale) FormatRow() []string {
	return []string{strconv.Itoa(s.Ticket), strconv.FormatInt(s.BuyerID, 10), s.BuyerName, FormatTimestamp(s.Timestamp), s.ReturnedBy}
}

// ParseReturnRow parses an ordered field sequence into a Return.
func ParseReturnRow(fields []string) (Return, error) {
	if len(fields) != len(ReturnHeader) {
		return Return{}, parseErr(TableReturns, fields, "want %d fields, got %d", len(ReturnHeader), len(fields))
	}
	ticket, err := strconv.Atoi(fields[0])
	if err != nil {
		return Return{}, parseErr(TableReturns, fields, "ticket: %v", err)
	}
	buyerID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Return{}, parseErr(TableReturns, fields, "buyer_id: %v", err)
	}
	ts, err := ParseTimestamp(fields[4])
	if err != nil {
		return Return{}, parseErr(TableReturns, fields, "timestamp: %v", err)
	}
	return Return{Ticket: ticket, BuyerID: buyerID, BuyerName: fields[2], ReturnedBy: fields[3], Timestamp: ts}, nil
}

// FormatRow renders the return in canonical column order.
func (r Return) FormatRow() []string {
	return []string{strconv.Itoa(r.Ticket), strconv.FormatInt(r.BuyerID, 10), r.BuyerName, r.ReturnedBy, FormatTimestamp(r.Timestamp)}
}
