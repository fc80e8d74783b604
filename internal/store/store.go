// Package store coordinates the in-memory tables, the write-ahead journals,
// and the snapshot backend behind one public operation surface. Every
// mutation follows the same discipline: validate against in-memory state,
// journal the intent durably, apply the mutation, then schedule an
// asynchronous snapshot flush.
package store

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"ticketcore/internal/archive"
	"ticketcore/internal/journal"
	"ticketcore/internal/metrics"
	"ticketcore/internal/persistence"
	"ticketcore/internal/reconcile"
	"ticketcore/internal/table"
	"ticketcore/pkg/domain"
)

// flushQueue bounds the backlog of pending snapshot flush requests.
const flushQueue = 64

// rangeFile is the marker file holding the valid ticket numbering window.
const rangeFile = "range.txt"

// Options configures Open. Zero values select environment-driven defaults.
type Options struct {
	// DataDir roots the journals, the range marker, and the default CSV
	// backend. Defaults to TICKETCORE_DATA_DIR, then "./ticketdata".
	DataDir string
	// Backend overrides the snapshot backend; nil selects by environment.
	Backend persistence.Backend
	// Archive overrides the archive store; nil selects by environment.
	Archive archive.Store
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Metrics is optional instrumentation.
	Metrics *metrics.Metrics
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Store is the single authority over ticket state. It is safe for concurrent
// use; one Store instance owns its data directory exclusively.
type Store struct {
	dataDir string
	backend persistence.Backend
	archive archive.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	salesJournal   *journal.Journal
	returnsJournal *journal.Journal

	users       *table.Table[int64, domain.User]
	assignments *table.Table[int, domain.Assignment]
	sales       *table.Table[int, domain.Sale]
	returns     *table.Table[domain.ReturnKey, domain.Return]

	// resetMu lets normal operations proceed concurrently while making a
	// reset exclusive against all of them.
	resetMu sync.RWMutex

	rangeMu   sync.Mutex
	rangePath string

	flushMu sync.Mutex
	flushCh chan string
	closed  bool
	wg      sync.WaitGroup
}

// Open reconciles persisted state and returns a ready store plus the
// reconciliation report. The caller must Close the store to stop the flush
// worker and release the backend.
func Open(ctx context.Context, opts Options) (*Store, reconcile.Result, error) {
	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = os.Getenv("TICKETCORE_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = "./ticketdata"
	}
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, reconcile.Result{}, fmt.Errorf("create data dir: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	backend := opts.Backend
	if backend == nil {
		var err error
		backend, err = persistence.Open(dataDir)
		if err != nil {
			return nil, reconcile.Result{}, fmt.Errorf("open snapshot backend: %w", err)
		}
	}
	arch := opts.Archive
	if arch == nil {
		var err error
		arch, err = archive.Open(ctx)
		if err != nil {
			_ = backend.Close()
			return nil, reconcile.Result{}, fmt.Errorf("open archive store: %w", err)
		}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Store{
		dataDir:        dataDir,
		backend:        backend,
		archive:        arch,
		logger:         logger,
		metrics:        opts.Metrics,
		now:            now,
		salesJournal:   journal.Open(filepath.Join(dataDir, "sales.log")),
		returnsJournal: journal.Open(filepath.Join(dataDir, "returns.log")),
		users:          table.New[int64, domain.User](),
		assignments:    table.New[int, domain.Assignment](),
		sales:          table.New[int, domain.Sale](),
		returns:        table.New[domain.ReturnKey, domain.Return](),
		rangePath:      filepath.Join(dataDir, rangeFile),
		flushCh:        make(chan string, flushQueue),
	}

	rc := &reconcile.Reconciler{
		Backend: backend,
		Sales:   s.salesJournal,
		Returns: s.returnsJournal,
		Logger:  logger,
	}
	state, res, err := rc.Run()
	if err != nil {
		_ = backend.Close()
		return nil, reconcile.Result{}, fmt.Errorf("reconcile: %w", err)
	}
	s.users.Replace(state.Users)
	s.assignments.Replace(state.Assignments)
	s.sales.Replace(state.Sales)
	s.returns.Replace(state.Returns)
	s.metrics.Reconcile(res.AppliedSales+res.AppliedReturns,
		res.SkippedJournalLines+res.SkippedSnapshotRows)

	s.wg.Add(1)
	go s.flushWorker()
	return s, res, nil
}

// Close stops the flush worker, writes a final snapshot of every table, and
// releases the backend. The store must not be used afterwards.
func (s *Store) Close() error {
	s.flushMu.Lock()
	if !s.closed {
		s.closed = true
		close(s.flushCh)
	}
	s.flushMu.Unlock()
	s.wg.Wait()
	flushErr := s.Flush()
	if err := s.backend.Close(); err != nil {
		return errors.Join(flushErr, fmt.Errorf("close backend: %w", err))
	}
	return flushErr
}

// Flush synchronously rewrites every table snapshot.
func (s *Store) Flush() error {
	var errs []error
	for _, t := range []string{domain.TableUsers, domain.TableAssignments, domain.TableSales, domain.TableReturns} {
		if err := s.flushTable(t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Store) flushWorker() {
	defer s.wg.Done()
	for name := range s.flushCh {
		if err := s.flushTable(name); err != nil {
			s.logger.Error("snapshot flush failed", "table", name, "error", err)
		}
	}
}

// requestFlush schedules asynchronous snapshot writes. Requests after Close
// are dropped; Close performs a final full flush anyway.
func (s *Store) requestFlush(tables ...string) {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()
	if s.closed {
		return
	}
	for _, t := range tables {
		s.flushCh <- t
	}
}

func (s *Store) flushTable(name string) error {
	var header []string
	var rows [][]string
	switch name {
	case domain.TableUsers:
		header, rows = domain.UserHeader, reconcile.UserRows(s.users.Snapshot())
	case domain.TableAssignments:
		header, rows = domain.AssignmentHeader, reconcile.AssignmentRows(s.assignments.Snapshot())
	case domain.TableSales:
		header, rows = domain.SaleHeader, reconcile.SaleRows(s.sales.Snapshot())
	case domain.TableReturns:
		header, rows = domain.ReturnHeader, reconcile.ReturnRows(s.returns.Snapshot())
	default:
		return fmt.Errorf("unknown table %s", name)
	}
	start := time.Now()
	err := s.backend.Write(name, header, rows)
	s.metrics.SnapshotFlush(name, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}
	return nil
}

func validName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return fmt.Errorf("empty name")
	}
	if strings.ContainsAny(name, ";\r\n") {
		return fmt.Errorf("name %q contains reserved characters", name)
	}
	return nil
}

// RegisterUser records a new user. Display names are unique
// case-insensitively; ids are unique exactly.
func (s *Store) RegisterUser(id int64, name, fullName string) (domain.RegisterResult, error) {
	if err := validName(name); err != nil {
		return domain.RegisterResult{}, fmt.Errorf("register user: %w", err)
	}
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()

	var result domain.RegisterResult
	s.users.WithLock(func(tx *table.Tx[int64, domain.User]) {
		if existing, ok := tx.Get(id); ok {
			result = domain.RegisterResult{Status: domain.RegisterAlreadyRegistered, User: existing}
			return
		}
		canon := domain.Canon(name)
		taken := false
		tx.Range(func(_ int64, u domain.User) bool {
			if domain.Canon(u.Name) == canon {
				result = domain.RegisterResult{Status: domain.RegisterNameTaken, User: u}
				taken = true
				return false
			}
			return true
		})
		if taken {
			return
		}
		u := domain.User{ID: id, Name: strings.TrimSpace(name), FullName: strings.TrimSpace(fullName)}
		tx.Upsert(id, u)
		result = domain.RegisterResult{Status: domain.Registered, User: u}
	})
	if result.Status == domain.Registered {
		s.requestFlush(domain.TableUsers)
	}
	return result, nil
}

// Users returns all registered users ordered by id.
func (s *Store) Users() []domain.User {
	rows := s.users.Snapshot()
	out := make([]domain.User, 0, len(rows))
	for _, u := range rows {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Assign reserves tickets for owner, reporting a per-ticket outcome. A ticket
// reserved by a different owner is left untouched. Reservations are snapshot
// state only; they carry no journal entries.
func (s *Store) Assign(owner string, tickets []int) ([]domain.AssignResult, error) {
	if err := validName(owner); err != nil {
		return nil, fmt.Errorf("assign: %w", err)
	}
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()

	canon := domain.Canon(owner)
	results := make([]domain.AssignResult, 0, len(tickets))
	added := false
	s.assignments.WithLock(func(tx *table.Tx[int, domain.Assignment]) {
		for _, ticket := range tickets {
			if held, ok := tx.Get(ticket); ok {
				if domain.Canon(held.Owner) == canon {
					results = append(results, domain.AssignResult{Ticket: ticket, Status: domain.AssignedToSelf})
				} else {
					results = append(results, domain.AssignResult{Ticket: ticket, Status: domain.AssignConflict, Owner: held.Owner})
				}
				continue
			}
			tx.Upsert(ticket, domain.Assignment{Owner: strings.TrimSpace(owner), Ticket: ticket})
			results = append(results, domain.AssignResult{Ticket: ticket, Status: domain.Assigned})
			added = true
		}
	})
	if added {
		s.requestFlush(domain.TableAssignments)
	}
	return results, nil
}

// Unassign releases owner's reservations. With an empty ticket list it
// releases the whole lot. It returns the released tickets sorted.
func (s *Store) Unassign(owner string, tickets []int) []int {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()

	canon := domain.Canon(owner)
	wanted := make(map[int]bool, len(tickets))
	for _, t := range tickets {
		wanted[t] = true
	}
	var removed []int
	s.assignments.WithLock(func(tx *table.Tx[int, domain.Assignment]) {
		tx.RemoveWhere(func(ticket int, a domain.Assignment) bool {
			if domain.Canon(a.Owner) != canon {
				return false
			}
			if len(wanted) > 0 && !wanted[ticket] {
				return false
			}
			removed = append(removed, ticket)
			return true
		})
	})
	sort.Ints(removed)
	if len(removed) > 0 {
		s.requestFlush(domain.TableAssignments)
	}
	return removed
}

// Lot returns owner's reserved tickets sorted.
func (s *Store) Lot(owner string) []int {
	canon := domain.Canon(owner)
	var out []int
	for ticket, a := range s.assignments.Snapshot() {
		if domain.Canon(a.Owner) == canon {
			out = append(out, ticket)
		}
	}
	sort.Ints(out)
	return out
}

// QueryAvailable returns owner's reserved tickets that have no active sale,
// sorted.
func (s *Store) QueryAvailable(owner string) []int {
	sold := s.sales.Snapshot()
	var out []int
	for _, ticket := range s.Lot(owner) {
		if _, taken := sold[ticket]; !taken {
			out = append(out, ticket)
		}
	}
	return out
}

// Sell sells one ticket to the named buyer. The sale is journaled before the
// in-memory table changes; a journal failure leaves state untouched and
// reports SellStorageUnavailable.
func (s *Store) Sell(buyerID int64, buyerName string, ticket int) (domain.SellResult, error) {
	if err := validName(buyerName); err != nil {
		return domain.SellResult{}, fmt.Errorf("sell: %w", err)
	}
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	result := s.sell(buyerID, buyerName, ticket)
	s.metrics.SellOutcome(string(result.Status))
	if result.Status == domain.SellSold {
		s.requestFlush(domain.TableSales)
	}
	return result, nil
}

func (s *Store) sell(buyerID int64, buyerName string, ticket int) domain.SellResult {
	if rng, ok, err := s.Range(); err != nil {
		s.logger.Warn("unreadable range marker, skipping range check", "error", err)
	} else if ok && !rng.Contains(ticket) {
		return domain.SellResult{Status: domain.SellOutOfRange}
	}

	canon := domain.Canon(buyerName)
	assignments := s.assignments.Snapshot()
	ownsLot := false
	for _, a := range assignments {
		if domain.Canon(a.Owner) == canon {
			ownsLot = true
			break
		}
	}
	if held, ok := assignments[ticket]; ok {
		if domain.Canon(held.Owner) != canon {
			return domain.SellResult{Status: domain.SellAssignedToOther, Owner: held.Owner}
		}
	} else if ownsLot {
		return domain.SellResult{Status: domain.SellNotInBuyersLot}
	}

	var result domain.SellResult
	s.sales.WithLock(func(tx *table.Tx[int, domain.Sale]) {
		if existing, ok := tx.Get(ticket); ok {
			result = domain.SellResult{Status: domain.SellAlreadySold, Sale: existing}
			return
		}
		sale := domain.Sale{Ticket: ticket, BuyerID: buyerID, BuyerName: strings.TrimSpace(buyerName), Timestamp: s.now()}
		err := s.salesJournal.Append(journal.SaleEntry(sale))
		s.metrics.JournalAppend(domain.TableSales, err)
		if err != nil {
			s.logger.Error("sale journal append failed", "ticket", ticket, "buyer", buyerID, "error", err)
			result = domain.SellResult{Status: domain.SellStorageUnavailable}
			return
		}
		tx.Upsert(ticket, sale)
		result = domain.SellResult{Status: domain.SellSold, Sale: sale}
	})
	return result
}

// SellBatch sells several tickets for one buyer, returning per-ticket
// outcomes in input order.
func (s *Store) SellBatch(buyerID int64, buyerName string, tickets []int) ([]domain.SellResult, error) {
	results := make([]domain.SellResult, 0, len(tickets))
	for _, ticket := range tickets {
		r, err := s.Sell(buyerID, buyerName, ticket)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

// ReturnTicket gives a sold ticket back. Only the holding buyer's sale can be
// returned; the return is journaled before the sale row is removed.
func (s *Store) ReturnTicket(buyerID int64, buyerName string, ticket int, returnedBy string) (domain.ReturnResult, error) {
	if err := validName(returnedBy); err != nil {
		return domain.ReturnResult{}, fmt.Errorf("return: %w", err)
	}
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()

	var result domain.ReturnResult
	s.sales.WithLock(func(tx *table.Tx[int, domain.Sale]) {
		held, ok := tx.Get(ticket)
		if !ok || held.BuyerID != buyerID {
			result = domain.ReturnResult{Status: domain.ReturnNotOwned}
			return
		}
		ret := domain.Return{
			Ticket:     ticket,
			BuyerID:    held.BuyerID,
			BuyerName:  held.BuyerName,
			ReturnedBy: strings.TrimSpace(returnedBy),
			Timestamp:  s.now(),
		}
		err := s.returnsJournal.Append(journal.ReturnEntry(ret))
		s.metrics.JournalAppend(domain.TableReturns, err)
		if err != nil {
			s.logger.Error("return journal append failed", "ticket", ticket, "buyer", buyerID, "error", err)
			result = domain.ReturnResult{Status: domain.ReturnStorageUnavailable}
			return
		}
		tx.Delete(ticket)
		s.returns.Upsert(ret.Key(), ret)
		result = domain.ReturnResult{Status: domain.Returned, Return: ret}
	})
	s.metrics.ReturnOutcome(string(result.Status))
	if result.Status == domain.Returned {
		s.requestFlush(domain.TableSales, domain.TableReturns)
	}
	return result, nil
}

// SoldBy returns the buyer's active sales ordered by ticket.
func (s *Store) SoldBy(buyerID int64) []domain.Sale {
	var out []domain.Sale
	for _, sale := range s.sales.Snapshot() {
		if sale.BuyerID == buyerID {
			out = append(out, sale)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ticket < out[j].Ticket })
	return out
}

// BuyerCount is one buyer's active sale tally.
type BuyerCount struct {
	Name  string
	Count int
}

// Summary tallies active sales overall and per buyer.
type Summary struct {
	TotalSales int
	ByBuyer    []BuyerCount
}

// Summarize returns the current sales summary. Buyers are grouped
// case-insensitively and ordered by count descending, then name.
func (s *Store) Summarize() Summary {
	sales := s.sales.Snapshot()
	tickets := make([]int, 0, len(sales))
	for t := range sales {
		tickets = append(tickets, t)
	}
	sort.Ints(tickets)

	counts := make(map[string]*BuyerCount)
	var order []string
	for _, t := range tickets {
		sale := sales[t]
		key := domain.Canon(sale.BuyerName)
		bc, ok := counts[key]
		if !ok {
			bc = &BuyerCount{Name: sale.BuyerName}
			counts[key] = bc
			order = append(order, key)
		}
		bc.Count++
	}
	summary := Summary{TotalSales: len(sales)}
	for _, key := range order {
		summary.ByBuyer = append(summary.ByBuyer, *counts[key])
	}
	sort.Slice(summary.ByBuyer, func(i, j int) bool {
		if summary.ByBuyer[i].Count != summary.ByBuyer[j].Count {
			return summary.ByBuyer[i].Count > summary.ByBuyer[j].Count
		}
		return summary.ByBuyer[i].Name < summary.ByBuyer[j].Name
	})
	return summary
}

// Range reads the ticket numbering window. ok is false when no window is set.
func (s *Store) Range() (rng domain.TicketRange, ok bool, err error) {
	s.rangeMu.Lock()
	defer s.rangeMu.Unlock()
	b, err := os.ReadFile(s.rangePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.TicketRange{}, false, nil
		}
		return domain.TicketRange{}, false, fmt.Errorf("read range marker: %w", err)
	}
	rng, err = domain.ParseTicketRange(strings.TrimSpace(string(b)))
	if err != nil {
		return domain.TicketRange{}, false, err
	}
	return rng, true, nil
}

// SetRange persists the ticket numbering window, normalizing argument order.
// The marker is replaced atomically.
func (s *Store) SetRange(a, b int) (domain.TicketRange, error) {
	s.resetMu.RLock()
	defer s.resetMu.RUnlock()
	s.rangeMu.Lock()
	defer s.rangeMu.Unlock()

	rng := domain.NewTicketRange(a, b)
	tmp := s.rangePath + ".tmp"
	if err := os.WriteFile(tmp, []byte(rng.String()+"\n"), 0o644); err != nil {
		return domain.TicketRange{}, fmt.Errorf("write range marker: %w", err)
	}
	if err := os.Rename(tmp, s.rangePath); err != nil {
		_ = os.Remove(tmp)
		return domain.TicketRange{}, fmt.Errorf("replace range marker: %w", err)
	}
	return rng, nil
}

// Reset archives the current round and starts an empty one: final snapshots
// and both rotated journals go to the archive store, then every table is
// cleared and empty snapshots are rewritten. The range marker is kept. It
// returns the archive keys written.
//
// Snapshot exports run before anything is destroyed, so an archive failure
// aborts the reset with all state intact. A failed upload of an already
// rotated journal is logged and skipped; the rotated file stays on local
// disk either way.
func (s *Store) Reset(ctx context.Context) ([]string, error) {
	s.resetMu.Lock()
	defer s.resetMu.Unlock()

	now := s.now()
	stamp := now.UTC().Format("20060102T150405Z")
	var archived []string

	exports := []struct {
		table  string
		header []string
		rows   [][]string
	}{
		{domain.TableUsers, domain.UserHeader, reconcile.UserRows(s.users.Snapshot())},
		{domain.TableAssignments, domain.AssignmentHeader, reconcile.AssignmentRows(s.assignments.Snapshot())},
		{domain.TableSales, domain.SaleHeader, reconcile.SaleRows(s.sales.Snapshot())},
		{domain.TableReturns, domain.ReturnHeader, reconcile.ReturnRows(s.returns.Snapshot())},
	}
	for _, e := range exports {
		if len(e.rows) == 0 {
			continue
		}
		body, err := renderCSV(e.header, e.rows)
		if err != nil {
			return archived, fmt.Errorf("export %s: %w", e.table, err)
		}
		key := path.Join("resets", stamp, e.table+".csv")
		if _, err := s.archive.Put(ctx, key, bytes.NewReader(body)); err != nil {
			return archived, fmt.Errorf("archive %s: %w", e.table, err)
		}
		archived = append(archived, key)
	}

	for _, j := range []*journal.Journal{s.salesJournal, s.returnsJournal} {
		rotated, err := j.Rotate(now)
		if err != nil {
			return archived, fmt.Errorf("rotate journal: %w", err)
		}
		if rotated == "" {
			continue
		}
		key, err := s.archiveFile(ctx, stamp, rotated)
		if err != nil {
			s.logger.Warn("rotated journal upload failed, keeping local copy",
				"path", rotated, "error", err)
			continue
		}
		archived = append(archived, key)
	}

	s.users.Replace(nil)
	s.assignments.Replace(nil)
	s.sales.Replace(nil)
	s.returns.Replace(nil)
	if err := s.Flush(); err != nil {
		return archived, fmt.Errorf("rewrite empty snapshots: %w", err)
	}
	s.logger.Info("store reset", "stamp", stamp, "archived", archived)
	return archived, nil
}

func (s *Store) archiveFile(ctx context.Context, stamp, filePath string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	key := path.Join("resets", stamp, filepath.Base(filePath))
	if _, err := s.archive.Put(ctx, key, f); err != nil {
		return "", err
	}
	return key, nil
}

func renderCSV(header []string, rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
