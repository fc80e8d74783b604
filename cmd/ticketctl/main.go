// Command ticketctl administers a ticketcore data directory: it reports the
// sales summary, manages the ticket numbering window, runs the startup
// reconciliation on demand, and performs the end-of-round reset.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"ticketcore/internal/reconcile"
	"ticketcore/internal/store"
	"ticketcore/pkg/domain"
)

const usage = `usage: ticketctl [flags] <command>

commands:
  summary        print active sales totals per buyer
  range [a-b]    print the ticket window, or set it to a-b
  reconcile      run startup reconciliation and report repairs
  reset          archive the current round and start empty

flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("ticketctl", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}
	dataDir := flags.String("data", "", "data directory (default $TICKETCORE_DATA_DIR, then ./ticketdata)")
	verbose := flags.BoolP("verbose", "v", false, "log at debug level")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return 2
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	s, res, err := store.Open(ctx, store.Options{DataDir: *dataDir, Logger: logger})
	if err != nil {
		fmt.Fprintf(stderr, "ticketctl: %v\n", err)
		return 1
	}
	defer func() {
		if err := s.Close(); err != nil {
			fmt.Fprintf(stderr, "ticketctl: close: %v\n", err)
		}
	}()

	switch rest[0] {
	case "summary":
		return cmdSummary(s, stdout, stderr)
	case "range":
		return cmdRange(s, rest[1:], stdout, stderr)
	case "reconcile":
		return cmdReconcile(res, stdout)
	case "reset":
		return cmdReset(ctx, s, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "ticketctl: unknown command %q\n", rest[0])
		flags.Usage()
		return 2
	}
}

func cmdSummary(s *store.Store, stdout, stderr io.Writer) int {
	sum := s.Summarize()
	fmt.Fprintf(stdout, "active sales: %d\n", sum.TotalSales)
	for _, bc := range sum.ByBuyer {
		fmt.Fprintf(stdout, "  %s: %d\n", bc.Name, bc.Count)
	}
	if rng, ok, err := s.Range(); err != nil {
		fmt.Fprintf(stderr, "ticketctl: %v\n", err)
		return 1
	} else if ok {
		fmt.Fprintf(stdout, "ticket window: %s\n", rng)
	}
	return 0
}

func cmdRange(s *store.Store, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		rng, ok, err := s.Range()
		if err != nil {
			fmt.Fprintf(stderr, "ticketctl: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Fprintln(stdout, "no ticket window set")
			return 0
		}
		fmt.Fprintln(stdout, rng)
		return 0
	}
	parsed, err := domain.ParseTicketRange(args[0])
	if err != nil {
		fmt.Fprintf(stderr, "ticketctl: %v\n", err)
		return 2
	}
	rng, err := s.SetRange(parsed.Start, parsed.End)
	if err != nil {
		fmt.Fprintf(stderr, "ticketctl: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "ticket window set to %s\n", rng)
	return 0
}

func cmdReconcile(res reconcile.Result, stdout io.Writer) int {
	fmt.Fprintf(stdout, "applied sales: %d\n", res.AppliedSales)
	fmt.Fprintf(stdout, "applied returns: %d\n", res.AppliedReturns)
	fmt.Fprintf(stdout, "skipped journal lines: %d\n", res.SkippedJournalLines)
	fmt.Fprintf(stdout, "skipped snapshot rows: %d\n", res.SkippedSnapshotRows)
	fmt.Fprintf(stdout, "sale conflicts: %d\n", res.SaleConflicts)
	fmt.Fprintf(stdout, "orphan returns: %d\n", res.OrphanReturns)
	if len(res.RewrittenTables) > 0 {
		fmt.Fprintf(stdout, "rewritten snapshots: %v\n", res.RewrittenTables)
	} else {
		fmt.Fprintln(stdout, "snapshots already consistent")
	}
	return 0
}

func cmdReset(ctx context.Context, s *store.Store, stdout, stderr io.Writer) int {
	keys, err := s.Reset(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "ticketctl: reset: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "reset complete, %d artifacts archived\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(stdout, "  %s\n", k)
	}
	return 0
}
