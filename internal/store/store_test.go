package store

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	archmem "ticketcore/internal/infra/archive/memory"
	persistmem "ticketcore/internal/infra/persistence/memory"
	"ticketcore/internal/journal"
	"ticketcore/internal/reconcile"
	"ticketcore/internal/retry"
	"ticketcore/pkg/domain"
)

var testClock = func() time.Time {
	t, _ := domain.ParseTimestamp("2024-06-01T10:00:00Z")
	return t
}

type fixture struct {
	dir     string
	backend *persistmem.Store
	archive *archmem.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{dir: t.TempDir(), backend: persistmem.New(), archive: archmem.New()}
}

func (f *fixture) open(t *testing.T) (*Store, reconcile.Result) {
	t.Helper()
	s, res, err := Open(context.Background(), Options{
		DataDir: f.dir,
		Backend: f.backend,
		Archive: f.archive,
		Logger:  slog.New(slog.DiscardHandler),
		Now:     testClock,
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, res
}

func TestSellReturnRoundTrip(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	res, err := s.Sell(7, "ana", 42)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if res.Status != domain.SellSold || res.Sale.Ticket != 42 {
		t.Fatalf("unexpected sell result %+v", res)
	}

	if res, _ := s.Sell(8, "luis", 42); res.Status != domain.SellAlreadySold || res.Sale.BuyerID != 7 {
		t.Fatalf("double sell not rejected: %+v", res)
	}

	if ret, _ := s.ReturnTicket(8, "luis", 42, "admin"); ret.Status != domain.ReturnNotOwned {
		t.Fatalf("foreign return not rejected: %+v", ret)
	}
	ret, err := s.ReturnTicket(7, "ana", 42, "admin")
	if err != nil {
		t.Fatalf("return: %v", err)
	}
	if ret.Status != domain.Returned || ret.Return.ReturnedBy != "admin" {
		t.Fatalf("unexpected return result %+v", ret)
	}

	// A returned ticket is sellable again.
	if res, _ := s.Sell(8, "luis", 42); res.Status != domain.SellSold {
		t.Fatalf("resell after return failed: %+v", res)
	}
	if ret, _ := s.ReturnTicket(8, "luis", 99, "admin"); ret.Status != domain.ReturnNotOwned {
		t.Fatalf("return of unsold ticket not rejected: %+v", ret)
	}
}

func TestSellAtMostOnceUnderContention(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	const workers = 16
	results := make([]domain.SellResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.Sell(int64(i+1), "buyer", 7)
			if err != nil {
				t.Errorf("sell: %v", err)
				return
			}
			results[i] = r
		}(i)
	}
	wg.Wait()

	sold := 0
	for _, r := range results {
		switch r.Status {
		case domain.SellSold:
			sold++
		case domain.SellAlreadySold:
		default:
			t.Fatalf("unexpected status %+v", r)
		}
	}
	if sold != 1 {
		t.Fatalf("%d winners for one ticket", sold)
	}
}

func TestSellRespectsAssignments(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	if _, err := s.Assign("ana", []int{10, 11, 12}); err != nil {
		t.Fatalf("assign: %v", err)
	}

	// Another owner's reservation blocks the sale.
	res, _ := s.Sell(8, "luis", 10)
	if res.Status != domain.SellAssignedToOther || res.Owner != "ana" {
		t.Fatalf("reserved ticket sold: %+v", res)
	}

	// A lot holder is confined to the lot.
	if res, _ := s.Sell(7, "Ana", 50); res.Status != domain.SellNotInBuyersLot {
		t.Fatalf("lot holder escaped lot: %+v", res)
	}
	// Lot ownership matching is case-insensitive.
	if res, _ := s.Sell(7, "Ana", 11); res.Status != domain.SellSold {
		t.Fatalf("owner blocked from own lot: %+v", res)
	}

	// A buyer with no lot may take any unreserved ticket.
	if res, _ := s.Sell(8, "luis", 50); res.Status != domain.SellSold {
		t.Fatalf("lotless buyer blocked: %+v", res)
	}
}

func TestSellHonorsRange(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	rng, err := s.SetRange(100, 1)
	if err != nil {
		t.Fatalf("set range: %v", err)
	}
	if rng.Start != 1 || rng.End != 100 {
		t.Fatalf("range not normalized: %+v", rng)
	}
	if res, _ := s.Sell(7, "ana", 101); res.Status != domain.SellOutOfRange {
		t.Fatalf("out-of-range ticket sold: %+v", res)
	}
	if res, _ := s.Sell(7, "ana", 100); res.Status != domain.SellSold {
		t.Fatalf("in-range ticket rejected: %+v", res)
	}

	got, ok, err := s.Range()
	if err != nil || !ok || got.String() != "1-100" {
		t.Fatalf("range read back wrong: %+v %v %v", got, ok, err)
	}
}

func TestRangeSurvivesReopen(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	if _, err := s.SetRange(1, 60); err != nil {
		t.Fatalf("set range: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, _ := f.open(t)
	defer func() { _ = s2.Close() }()
	rng, ok, err := s2.Range()
	if err != nil || !ok || rng.String() != "1-60" {
		t.Fatalf("range lost across reopen: %+v %v %v", rng, ok, err)
	}
}

func TestRegisterUser(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	if r, err := s.RegisterUser(7, "ana", "Ana Alvarez"); err != nil || r.Status != domain.Registered {
		t.Fatalf("register: %+v %v", r, err)
	}
	if r, _ := s.RegisterUser(7, "other", "Other"); r.Status != domain.RegisterAlreadyRegistered || r.User.Name != "ana" {
		t.Fatalf("duplicate id accepted: %+v", r)
	}
	if r, _ := s.RegisterUser(8, "ANA", "Impostor"); r.Status != domain.RegisterNameTaken {
		t.Fatalf("case-insensitive collision accepted: %+v", r)
	}
	if _, err := s.RegisterUser(9, "a;b", "Bad"); err == nil {
		t.Fatal("delimiter in name accepted")
	}

	users := s.Users()
	if len(users) != 1 || users[0].ID != 7 {
		t.Fatalf("unexpected users %+v", users)
	}
}

func TestAssignUnassignLot(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	results, err := s.Assign("ana", []int{3, 1, 2})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	for _, r := range results {
		if r.Status != domain.Assigned {
			t.Fatalf("unexpected result %+v", r)
		}
	}
	if r, _ := s.Assign("Ana", []int{2}); r[0].Status != domain.AssignedToSelf {
		t.Fatalf("re-assign to self: %+v", r)
	}
	if r, _ := s.Assign("luis", []int{2}); r[0].Status != domain.AssignConflict || r[0].Owner != "ana" {
		t.Fatalf("conflict not reported: %+v", r)
	}

	if lot := s.Lot("ANA"); len(lot) != 3 || lot[0] != 1 || lot[2] != 3 {
		t.Fatalf("unexpected lot %v", lot)
	}

	if res, _ := s.Sell(7, "ana", 2); res.Status != domain.SellSold {
		t.Fatalf("sell: %+v", res)
	}
	if avail := s.QueryAvailable("ana"); len(avail) != 2 || avail[0] != 1 || avail[1] != 3 {
		t.Fatalf("unexpected availability %v", avail)
	}

	if removed := s.Unassign("ana", []int{1}); len(removed) != 1 || removed[0] != 1 {
		t.Fatalf("unexpected unassign %v", removed)
	}
	if removed := s.Unassign("ana", nil); len(removed) != 2 {
		t.Fatalf("lot-wide unassign removed %v", removed)
	}
	if lot := s.Lot("ana"); len(lot) != 0 {
		t.Fatalf("lot not empty: %v", lot)
	}
}

func TestCrashRecoveryFromJournal(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	if _, err := s.Sell(7, "ana", 42); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if _, err := s.Sell(8, "luis", 43); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if r, err := s.ReturnTicket(8, "luis", 43, "admin"); err != nil || r.Status != domain.Returned {
		t.Fatalf("return: %+v %v", r, err)
	}
	// Crash before any snapshot reaches storage: the journals alone carry
	// the state into a reopen against an empty backend.
	f.backend = persistmem.New()

	s2, res := f.open(t)
	defer func() { _ = s2.Close() }()
	if res.AppliedSales == 0 {
		t.Fatalf("journal replay applied nothing: %+v", res)
	}
	if sold := s2.SoldBy(7); len(sold) != 1 || sold[0].Ticket != 42 {
		t.Fatalf("sale lost in recovery: %+v", sold)
	}
	if sold := s2.SoldBy(8); len(sold) != 0 {
		t.Fatalf("returned sale resurrected: %+v", sold)
	}

	// Replay is idempotent: a third open changes nothing.
	if err := s2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	s3, res3 := f.open(t)
	defer func() { _ = s3.Close() }()
	if res3.Dirty() {
		t.Fatalf("second recovery not clean: %+v", res3)
	}
}

func TestSellStorageUnavailable(t *testing.T) {
	prev := journal.DefaultPolicy
	journal.DefaultPolicy = retry.Policy{Attempts: 1}
	defer func() { journal.DefaultPolicy = prev }()

	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	// A directory squatting on the journal path makes every append fail.
	if err := os.Mkdir(filepath.Join(f.dir, "sales.log"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	res, err := s.Sell(7, "ana", 42)
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if res.Status != domain.SellStorageUnavailable {
		t.Fatalf("expected storage outcome, got %+v", res)
	}
	if sold := s.SoldBy(7); len(sold) != 0 {
		t.Fatalf("state mutated despite journal failure: %+v", sold)
	}
}

func TestSummarize(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	for ticket := 1; ticket <= 3; ticket++ {
		if _, err := s.Sell(7, "ana", ticket); err != nil {
			t.Fatalf("sell: %v", err)
		}
	}
	if _, err := s.Sell(8, "Luis", 4); err != nil {
		t.Fatalf("sell: %v", err)
	}

	sum := s.Summarize()
	if sum.TotalSales != 4 || len(sum.ByBuyer) != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.ByBuyer[0].Name != "ana" || sum.ByBuyer[0].Count != 3 {
		t.Fatalf("unexpected leader %+v", sum.ByBuyer[0])
	}
	if sum.ByBuyer[1].Name != "Luis" || sum.ByBuyer[1].Count != 1 {
		t.Fatalf("unexpected runner-up %+v", sum.ByBuyer[1])
	}
}

func TestCloseWritesSnapshots(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	if _, err := s.Sell(7, "ana", 42); err != nil {
		t.Fatalf("sell: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	_, rows, err := f.backend.Load(domain.TableSales)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 1 || rows[0][0] != "42" {
		t.Fatalf("snapshot missing sale: %+v", rows)
	}
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	s, _ := f.open(t)
	defer func() { _ = s.Close() }()

	if _, err := s.RegisterUser(7, "ana", "Ana"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := s.Sell(7, "ana", 42); err != nil {
		t.Fatalf("sell: %v", err)
	}

	keys, err := s.Reset(context.Background())
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	want := []string{
		"resets/20240601T100000Z/users.csv",
		"resets/20240601T100000Z/sales.csv",
		"resets/20240601T100000Z/sales.log.20240601T100000Z",
	}
	got := make(map[string]bool, len(keys))
	for _, k := range keys {
		got[k] = true
	}
	for _, k := range want {
		if !got[k] {
			t.Fatalf("archive key %s missing in %v", k, keys)
		}
	}

	if len(s.Users()) != 0 || len(s.SoldBy(7)) != 0 {
		t.Fatal("tables not cleared")
	}
	if _, err := os.Stat(filepath.Join(f.dir, "sales.log")); !os.IsNotExist(err) {
		t.Fatalf("live journal still present: %v", err)
	}
	if _, rows, err := f.backend.Load(domain.TableSales); err != nil || len(rows) != 0 {
		t.Fatalf("sales snapshot not emptied: %v %+v", err, rows)
	}

	// The store is immediately usable for a new round.
	if res, err := s.Sell(8, "luis", 1); err != nil || res.Status != domain.SellSold {
		t.Fatalf("sell after reset: %+v %v", res, err)
	}
}
