package ledger

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// PendingLabel is the sentinel stored when a record has not yet received a
// manually-reviewed ground-truth label.
const PendingLabel = "PENDING"

var header = []string{"Timestamp", "Filename", "Human Score", "Nonhuman Score", "Risk Level", "Actual Label"}

// ErrLocked is returned by Open when another process owns the ledger file.
var ErrLocked = errors.New("ledger is locked by another process")

// Record is one durable prediction outcome. An empty ActualLabel means the
// record is still pending manual review.
type Record struct {
	Timestamp     time.Time
	Filename      string
	HumanScore    float64
	NonhumanScore float64
	RiskLevel     string
	ActualLabel   string
}

// Ledger is the owned handle to the prediction CSV. All operations serialize
// on one mutex; an advisory file lock held for the handle's lifetime keeps
// other processes out. Handlers never touch the underlying file directly.
type Ledger struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

// Open prepares the ledger at path, creating the parent directory and
// acquiring the advisory lock. The file itself is created lazily on the
// first Append so an empty ledger stays absent and human-greppable dirs
// stay clean.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create records directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire ledger lock: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	return &Ledger{path: path, lock: lock}, nil
}

// Close releases the advisory lock.
func (l *Ledger) Close() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}

// Path returns the location of the backing CSV file.
func (l *Ledger) Path() string {
	return l.path
}

// Append writes one record. When the file does not exist yet the header row
// is written first. The row (or header+row) goes out in a single buffered
// write in append mode, so a crash never leaves a partial row behind.
func (l *Ledger) Append(r Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	exists := true
	if _, err := os.Stat(l.path); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat ledger: %w", err)
		}
		exists = false
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if !exists {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("encode header: %w", err)
		}
	}
	if err := w.Write(encodeRow(r)); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	return f.Close()
}

// ListAll returns every record in file order, oldest first. A missing file is
// an empty ledger, not an error.
func (l *Ledger) ListAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readRows()
	if err != nil {
		return nil, err
	}
	if rows == nil {
		return nil, nil
	}

	records := make([]Record, 0, len(rows))
	for i, row := range rows {
		record, err := decodeRow(row)
		if err != nil {
			return nil, fmt.Errorf("ledger row %d: %w", i+1, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// UpdateLabel rewrites the label column of the first row whose filename
// matches. It reports false without touching the file when no row matches;
// re-applying the same label is a no-op rewrite. The replacement file is
// written whole and swapped in with an atomic rename.
func (l *Ledger) UpdateLabel(filename, label string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.readRows()
	if err != nil {
		return false, err
	}
	if rows == nil {
		return false, nil
	}

	matched := -1
	for i, row := range rows {
		if row[1] == filename {
			matched = i
			break
		}
	}
	if matched == -1 {
		return false, nil
	}
	rows[matched][5] = label

	if err := l.rewrite(rows); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) readRows() ([][]string, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = len(header)

	// header row
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return [][]string{}, nil
		}
		return nil, fmt.Errorf("read ledger header: %w", err)
	}

	var rows [][]string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read ledger: %w", err)
		}
		rows = append(rows, row)
	}
}

func (l *Ledger) rewrite(rows [][]string) error {
	dir := filepath.Dir(l.path)
	tmp, err := os.CreateTemp(dir, ".predictions-*.csv")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpPath := tmp.Name()

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write rows: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp ledger: %w", err)
	}
	if err := os.Rename(tmpPath, l.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

func encodeRow(r Record) []string {
	label := r.ActualLabel
	if label == "" {
		label = PendingLabel
	}
	return []string{
		r.Timestamp.UTC().Format(time.RFC3339),
		r.Filename,
		strconv.FormatFloat(r.HumanScore, 'f', 6, 64),
		strconv.FormatFloat(r.NonhumanScore, 'f', 6, 64),
		r.RiskLevel,
		label,
	}
}

func decodeRow(row []string) (Record, error) {
	ts, err := time.Parse(time.RFC3339, row[0])
	if err != nil {
		return Record{}, fmt.Errorf("parse timestamp: %w", err)
	}
	human, err := strconv.ParseFloat(row[2], 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse human score: %w", err)
	}
	nonhuman, err := strconv.ParseFloat(row[3], 64)
	if err != nil {
		return Record{}, fmt.Errorf("parse nonhuman score: %w", err)
	}

	label := row[5]
	if label == PendingLabel {
		label = ""
	}

	return Record{
		Timestamp:     ts,
		Filename:      row[1],
		HumanScore:    human,
		NonhumanScore: nonhuman,
		RiskLevel:     row[4],
		ActualLabel:   label,
	}, nil
}
