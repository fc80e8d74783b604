// Package reconcile rebuilds the in-memory table state at startup from the
// last snapshots plus a replay of the write-ahead journals, then rewrites any
// snapshot the replay proved stale.
package reconcile

import (
	"fmt"
	"log/slog"
	"sort"

	"ticketcore/internal/journal"
	"ticketcore/internal/persistence"
	"ticketcore/pkg/domain"
)

// State is the reconciled content of every table. Sales are keyed by ticket
// so a ticket can hold at most one active sale; returns are keyed by their
// full replay key so re-applying a journal entry is a no-op.
type State struct {
	Users       map[int64]domain.User
	Assignments map[int]domain.Assignment
	Sales       map[int]domain.Sale
	Returns     map[domain.ReturnKey]domain.Return
}

// NewState returns an empty state with all maps allocated.
func NewState() *State {
	return &State{
		Users:       make(map[int64]domain.User),
		Assignments: make(map[int]domain.Assignment),
		Sales:       make(map[int]domain.Sale),
		Returns:     make(map[domain.ReturnKey]domain.Return),
	}
}

// Result reports what reconciliation had to repair. All counters are
// informational: malformed input is skipped, never fatal.
type Result struct {
	// SkippedJournalLines counts journal lines that failed to parse or
	// carried an event type foreign to their log.
	SkippedJournalLines int
	// SkippedSnapshotRows counts snapshot rows that failed to parse.
	SkippedSnapshotRows int
	// AppliedSales and AppliedReturns count journal entries absent from the
	// loaded snapshots when replay reached them.
	AppliedSales   int
	AppliedReturns int
	// SaleConflicts counts sale entries for a ticket already held by a
	// different buyer; the earlier sale wins.
	SaleConflicts int
	// OrphanReturns counts return entries with no matching sale anywhere.
	OrphanReturns int
	// RewrittenTables lists the snapshots rewritten because replay changed
	// their rows or malformed rows were dropped.
	RewrittenTables []string
}

// Dirty reports whether any snapshot had to be rewritten: the reconstructed
// state diverged from what storage held.
func (r Result) Dirty() bool {
	return len(r.RewrittenTables) > 0
}

// Reconciler runs the startup recovery pass. It is the only component that
// reads the journals; the store consumes the State it produces.
type Reconciler struct {
	Backend persistence.Backend
	Sales   *journal.Journal
	Returns *journal.Journal
	Logger  *slog.Logger
}

// Run loads snapshots, replays both journals on top of them, and rewrites
// every snapshot whose reconstructed rows differ from what was loaded.
// Journals are never modified.
func (rc *Reconciler) Run() (*State, Result, error) {
	logger := rc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	st := NewState()
	var res Result

	loaded, err := rc.loadSnapshots(st, &res, logger)
	if err != nil {
		return nil, Result{}, err
	}

	if err := rc.replaySales(st, &res, logger); err != nil {
		return nil, Result{}, err
	}
	if err := rc.replayReturns(st, &res, logger); err != nil {
		return nil, Result{}, err
	}

	if err := rc.rewriteStale(st, loaded, &res); err != nil {
		return nil, Result{}, err
	}
	if res.Dirty() || res.SkippedJournalLines > 0 || res.OrphanReturns > 0 {
		logger.Info("reconciliation repaired state",
			"applied_sales", res.AppliedSales,
			"applied_returns", res.AppliedReturns,
			"skipped_journal_lines", res.SkippedJournalLines,
			"skipped_snapshot_rows", res.SkippedSnapshotRows,
			"sale_conflicts", res.SaleConflicts,
			"orphan_returns", res.OrphanReturns,
			"rewritten", res.RewrittenTables)
	}
	return st, res, nil
}

// snapshotRows remembers, per table, the exact row set loaded from the
// backend so rewriteStale can detect divergence after replay.
type snapshotRows struct {
	users, assignments, sales, returns []string
	skipped                            map[string]int
}

func (rc *Reconciler) loadSnapshots(st *State, res *Result, logger *slog.Logger) (*snapshotRows, error) {
	loaded := &snapshotRows{skipped: make(map[string]int)}

	if err := rc.loadTable(domain.TableUsers, res, loaded, logger, func(fields []string) (string, error) {
		u, err := domain.ParseUserRow(fields)
		if err != nil {
			return "", err
		}
		st.Users[u.ID] = u
		return rowKey(u.FormatRow()), nil
	}, &loaded.users); err != nil {
		return nil, err
	}
	if err := rc.loadTable(domain.TableAssignments, res, loaded, logger, func(fields []string) (string, error) {
		a, err := domain.ParseAssignmentRow(fields)
		if err != nil {
			return "", err
		}
		st.Assignments[a.Ticket] = a
		return rowKey(a.FormatRow()), nil
	}, &loaded.assignments); err != nil {
		return nil, err
	}
	if err := rc.loadTable(domain.TableSales, res, loaded, logger, func(fields []string) (string, error) {
		s, err := domain.ParseSaleRow(fields)
		if err != nil {
			return "", err
		}
		st.Sales[s.Ticket] = s
		return rowKey(s.FormatRow()), nil
	}, &loaded.sales); err != nil {
		return nil, err
	}
	if err := rc.loadTable(domain.TableReturns, res, loaded, logger, func(fields []string) (string, error) {
		r, err := domain.ParseReturnRow(fields)
		if err != nil {
			return "", err
		}
		st.Returns[r.Key()] = r
		return rowKey(r.FormatRow()), nil
	}, &loaded.returns); err != nil {
		return nil, err
	}
	return loaded, nil
}

func (rc *Reconciler) loadTable(table string, res *Result, loaded *snapshotRows, logger *slog.Logger, apply func([]string) (string, error), keys *[]string) error {
	_, rows, err := rc.Backend.Load(table)
	if err != nil {
		return fmt.Errorf("load snapshot %s: %w", table, err)
	}
	for _, fields := range rows {
		key, err := apply(fields)
		if err != nil {
			res.SkippedSnapshotRows++
			loaded.skipped[table]++
			logger.Warn("skipping malformed snapshot row", "table", table, "error", err)
			continue
		}
		*keys = append(*keys, key)
	}
	return nil
}

func (rc *Reconciler) replaySales(st *State, res *Result, logger *slog.Logger) error {
	skipped, err := rc.Sales.Replay(func(e journal.Entry) {
		if e.Type != journal.EventSale {
			res.SkippedJournalLines++
			logger.Warn("foreign event in sales journal", "type", e.Type, "ticket", e.Ticket)
			return
		}
		if held, ok := st.Sales[e.Ticket]; ok {
			if held.BuyerID == e.UserID && domain.Canon(held.BuyerName) == domain.Canon(e.UserName) {
				return
			}
			res.SaleConflicts++
			logger.Warn("replayed sale conflicts with held ticket",
				"ticket", e.Ticket, "held_by", held.BuyerID, "replayed_buyer", e.UserID)
			return
		}
		st.Sales[e.Ticket] = domain.Sale{
			Ticket:    e.Ticket,
			BuyerID:   e.UserID,
			BuyerName: e.UserName,
			Timestamp: e.Timestamp,
		}
		res.AppliedSales++
	})
	if err != nil {
		return fmt.Errorf("replay sales journal: %w", err)
	}
	res.SkippedJournalLines += skipped
	return nil
}

func (rc *Reconciler) replayReturns(st *State, res *Result, logger *slog.Logger) error {
	skipped, err := rc.Returns.Replay(func(e journal.Entry) {
		if e.Type != journal.EventReturn {
			res.SkippedJournalLines++
			logger.Warn("foreign event in returns journal", "type", e.Type, "ticket", e.Ticket)
			return
		}
		saleRemoved := false
		if held, ok := st.Sales[e.Ticket]; ok &&
			held.BuyerID == e.UserID && domain.Canon(held.BuyerName) == domain.Canon(e.UserName) {
			delete(st.Sales, e.Ticket)
			saleRemoved = true
		}
		ret := domain.Return{
			Ticket:     e.Ticket,
			BuyerID:    e.UserID,
			BuyerName:  e.UserName,
			ReturnedBy: e.Extra,
			Timestamp:  e.Timestamp,
		}
		if _, ok := st.Returns[ret.Key()]; ok {
			return
		}
		if !saleRemoved {
			res.OrphanReturns++
			logger.Warn("return without matching sale", "ticket", e.Ticket, "buyer", e.UserID)
			return
		}
		st.Returns[ret.Key()] = ret
		res.AppliedReturns++
	})
	if err != nil {
		return fmt.Errorf("replay returns journal: %w", err)
	}
	res.SkippedJournalLines += skipped
	return nil
}

// rewriteStale rewrites a table when its reconstructed rows are not the exact
// set loaded from the snapshot, or when malformed rows were dropped from it.
// Users and assignments are never touched by replay; they are rewritten only
// to shed malformed rows.
func (rc *Reconciler) rewriteStale(st *State, loaded *snapshotRows, res *Result) error {
	type rewrite struct {
		table  string
		header []string
		rows   [][]string
		was    []string
	}
	pending := []rewrite{
		{domain.TableUsers, domain.UserHeader, UserRows(st.Users), loaded.users},
		{domain.TableAssignments, domain.AssignmentHeader, AssignmentRows(st.Assignments), loaded.assignments},
		{domain.TableSales, domain.SaleHeader, SaleRows(st.Sales), loaded.sales},
		{domain.TableReturns, domain.ReturnHeader, ReturnRows(st.Returns), loaded.returns},
	}
	for _, p := range pending {
		if loaded.skipped[p.table] == 0 && sameRowSet(p.rows, p.was) {
			continue
		}
		if err := rc.Backend.Write(p.table, p.header, p.rows); err != nil {
			return fmt.Errorf("rewrite snapshot %s: %w", p.table, err)
		}
		res.RewrittenTables = append(res.RewrittenTables, p.table)
	}
	return nil
}

func sameRowSet(rows [][]string, was []string) bool {
	if len(rows) != len(was) {
		return false
	}
	seen := make(map[string]int, len(was))
	for _, k := range was {
		seen[k]++
	}
	for _, fields := range rows {
		k := rowKey(fields)
		if seen[k] == 0 {
			return false
		}
		seen[k]--
	}
	return true
}

func rowKey(fields []string) string {
	key := ""
	for i, f := range fields {
		if i > 0 {
			key += "\x1f"
		}
		key += f
	}
	return key
}

// UserRows renders the users table in snapshot row form, ordered by id.
func UserRows(users map[int64]domain.User) [][]string {
	out := make([]domain.User, 0, len(users))
	for _, u := range users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	rows := make([][]string, len(out))
	for i, u := range out {
		rows[i] = u.FormatRow()
	}
	return rows
}

// AssignmentRows renders the assignments table, ordered by ticket.
func AssignmentRows(assignments map[int]domain.Assignment) [][]string {
	out := make([]domain.Assignment, 0, len(assignments))
	for _, a := range assignments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	rows := make([][]string, len(out))
	for i, a := range out {
		rows[i] = a.FormatRow()
	}
	return rows
}

// SaleRows renders the sales table, ordered by ticket.
func SaleRows(sales map[int]domain.Sale) [][]string {
	out := make([]domain.Sale, 0, len(sales))
	for _, s := range sales {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	rows := make([][]string, len(out))
	for i, s := range out {
		rows[i] = s.FormatRow()
	}
	return rows
}

// ReturnRows renders the returns table, ordered by ticket then timestamp.
func ReturnRows(returns map[domain.ReturnKey]domain.Return) [][]string {
	out := make([]domain.Return, 0, len(returns))
	for _, r := range returns {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ticket != out[j].Ticket {
			return out[i].Ticket < out[j].Ticket
		}
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].BuyerID < out[j].BuyerID
	})
	rows := make([][]string, len(out))
	for i, r := range out {
		rows[i] = r.FormatRow()
	}
	return rows
}
