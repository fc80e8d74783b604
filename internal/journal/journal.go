// Package journal implements the append-only write-ahead log that makes
// mutation intent durable before any in-memory state changes.
package journal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"ticketcore/internal/retry"
	"ticketcore/pkg/domain"
)

// Event types recorded in the log.
const (
	EventSale   = "sale"
	EventReturn = "return"
)

// minFields is the minimum arity of a valid journal line:
// type;userId;userName;ticket;timestamp[;extra].
const minFields = 5

// fieldSep delimits journal line fields.
const fieldSep = ";"

// DefaultPolicy bounds append retries against transient filesystem errors
// (file locked by another process, filesystem busy).
var DefaultPolicy = retry.Policy{Attempts: 5, Base: 150 * time.Millisecond}

// Entry is one journaled mutation event.
type Entry struct {
	Type      string
	UserID    int64
	UserName  string
	Ticket    int
	Timestamp time.Time
	// Extra carries returnedBy for return events; empty otherwise.
	Extra string
}

// SaleEntry builds the journal entry for a sale.
func SaleEntry(s domain.Sale) Entry {
	return Entry{Type: EventSale, UserID: s.BuyerID, UserName: s.BuyerName, Ticket: s.Ticket, Timestamp: s.Timestamp}
}

// ReturnEntry builds the journal entry for a return.
func ReturnEntry(r domain.Return) Entry {
	return Entry{Type: EventReturn, UserID: r.BuyerID, UserName: r.BuyerName, Ticket: r.Ticket, Timestamp: r.Timestamp, Extra: r.ReturnedBy}
}

// Format renders the entry as one delimited line without the trailing newline.
func (e Entry) Format() string {
	fields := []string{
		e.Type,
		strconv.FormatInt(e.UserID, 10),
		e.UserName,
		strconv.Itoa(e.Ticket),
		domain.FormatTimestamp(e.Timestamp),
	}
	if e.Extra != "" {
		fields = append(fields, e.Extra)
	}
	return strings.Join(fields, fieldSep)
}

// ParseLine parses one journal line. Lines below the minimum arity, with an
// unknown type, or with malformed numeric or timestamp fields are invalid;
// callers replaying the log skip and count them.
func ParseLine(line string) (Entry, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) < minFields {
		return Entry{}, fmt.Errorf("journal line has %d fields, want at least %d", len(fields), minFields)
	}
	if fields[0] != EventSale && fields[0] != EventReturn {
		return Entry{}, fmt.Errorf("unknown journal event type %q", fields[0])
	}
	userID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("journal userId: %w", err)
	}
	ticket, err := strconv.Atoi(fields[3])
	if err != nil {
		return Entry{}, fmt.Errorf("journal ticket: %w", err)
	}
	ts, err := domain.ParseTimestamp(fields[4])
	if err != nil {
		return Entry{}, fmt.Errorf("journal timestamp: %w", err)
	}
	e := Entry{Type: fields[0], UserID: userID, UserName: fields[2], Ticket: ticket, Timestamp: ts}
	if len(fields) > minFields {
		e.Extra = fields[minFields]
	}
	return e, nil
}

// Journal is one append-only log file. Appends are serialized; each append
// opens the file, writes one line, flushes to the storage medium, and closes,
// so a crash after Append returns leaves the entry durable.
type Journal struct {
	mu     sync.Mutex
	path   string
	policy retry.Policy
}

// Open prepares a journal at path. The file itself is created lazily on the
// first append so an empty journal never blocks reconciliation.
func Open(path string) *Journal {
	return &Journal{path: path, policy: DefaultPolicy}
}

// SetPolicy overrides the append retry policy (tests).
func (j *Journal) SetPolicy(p retry.Policy) { j.policy = p }

// Path returns the backing file path.
func (j *Journal) Path() string { return j.path }

// Append durably writes one entry. On error, nothing may be assumed written;
// the caller must not apply the corresponding in-memory mutation.
func (j *Journal) Append(e Entry) error {
	line := e.Format() + "\n"
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.policy.Do("journal append", func() error {
		f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := f.WriteString(line); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
}

// Replay streams every syntactically valid entry to fn in append order and
// returns the count of malformed lines skipped. A missing journal file is an
// empty journal.
func (j *Journal) Replay(fn func(Entry)) (skipped int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal %s: %w", j.path, err)
	}
	defer func() { _ = f.Close() }()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, perr := ParseLine(line)
		if perr != nil {
			skipped++
			continue
		}
		fn(entry)
	}
	if err := scanner.Err(); err != nil {
		return skipped, fmt.Errorf("read journal %s: %w", j.path, err)
	}
	return skipped, nil
}

// Rotate renames the journal to a timestamped archive name and leaves the
// live path absent for subsequent appends. It returns the archive path, or
// "" when there was nothing to rotate. The journal is never rewritten in
// place.
func (j *Journal) Rotate(now time.Time) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := os.Stat(j.path); errors.Is(err, os.ErrNotExist) {
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("stat journal %s: %w", j.path, err)
	}
	archive := fmt.Sprintf("%s.%s", j.path, now.UTC().Format("20060102T150405Z"))
	if err := os.Rename(j.path, archive); err != nil {
		return "", fmt.Errorf("rotate journal %s: %w", j.path, err)
	}
	return archive, nil
}
