package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Kaewkloaw/CallSense/internal/scoring"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "records", "predictions.csv"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleRecord(filename string) Record {
	return Record{
		Timestamp:     time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC),
		Filename:      filename,
		HumanScore:    0.912345,
		NonhumanScore: 0.087655,
		RiskLevel:     scoring.LevelLow,
	}
}

func TestAppendListRoundTrip(t *testing.T) {
	l := openTestLedger(t)

	want := sampleRecord("call.mp3")
	if err := l.Append(want); err != nil {
		t.Fatalf("append: %v", err)
	}

	records, err := l.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record got %d", len(records))
	}
	got := records[0]
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("timestamp %v != %v", got.Timestamp, want.Timestamp)
	}
	if got.Filename != want.Filename || got.RiskLevel != want.RiskLevel {
		t.Errorf("record mismatch: %+v", got)
	}
	if got.HumanScore != want.HumanScore || got.NonhumanScore != want.NonhumanScore {
		t.Errorf("scores %v/%v != %v/%v", got.HumanScore, got.NonhumanScore, want.HumanScore, want.NonhumanScore)
	}
	if got.ActualLabel != "" {
		t.Errorf("expected pending label, got %q", got.ActualLabel)
	}
}

func TestAppendCreatesHeaderOnce(t *testing.T) {
	l := openTestLedger(t)

	if err := l.Append(sampleRecord("a.mp3")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(sampleRecord("b.wav")); err != nil {
		t.Fatalf("append: %v", err)
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines", len(lines))
	}
	if lines[0] != "Timestamp,Filename,Human Score,Nonhuman Score,Risk Level,Actual Label" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "0.912345") || !strings.Contains(lines[1], "0.087655") {
		t.Fatalf("scores not at 6-decimal precision: %q", lines[1])
	}
	if !strings.HasSuffix(lines[1], PendingLabel) {
		t.Fatalf("expected PENDING sentinel: %q", lines[1])
	}
}

func TestListAllMissingFile(t *testing.T) {
	l := openTestLedger(t)
	records, err := l.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty ledger, got %d records", len(records))
	}
}

func TestListAllPreservesFileOrder(t *testing.T) {
	l := openTestLedger(t)
	names := []string{"first.mp3", "second.wav", "third.mp3"}
	for _, name := range names {
		if err := l.Append(sampleRecord(name)); err != nil {
			t.Fatalf("append %s: %v", name, err)
		}
	}

	records, err := l.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, name := range names {
		if records[i].Filename != name {
			t.Fatalf("position %d: expected %s got %s", i, name, records[i].Filename)
		}
	}
}

func TestUpdateLabel(t *testing.T) {
	l := openTestLedger(t)
	if err := l.Append(sampleRecord("call.mp3")); err != nil {
		t.Fatalf("append: %v", err)
	}

	ok, err := l.UpdateLabel("call.mp3", "human")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !ok {
		t.Fatal("expected match")
	}

	records, err := l.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if records[0].ActualLabel != "human" {
		t.Fatalf("expected label human got %q", records[0].ActualLabel)
	}
}

func TestUpdateLabelFirstMatchOnly(t *testing.T) {
	l := openTestLedger(t)
	if err := l.Append(sampleRecord("dup.mp3")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := l.Append(sampleRecord("dup.mp3")); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := l.UpdateLabel("dup.mp3", "ai"); err != nil {
		t.Fatalf("update: %v", err)
	}

	records, err := l.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if records[0].ActualLabel != "ai" {
		t.Fatalf("first row not updated: %+v", records[0])
	}
	if records[1].ActualLabel != "" {
		t.Fatalf("second row should stay pending: %+v", records[1])
	}
}

func TestUpdateLabelIdempotent(t *testing.T) {
	l := openTestLedger(t)
	if err := l.Append(sampleRecord("call.mp3")); err != nil {
		t.Fatalf("append: %v", err)
	}

	if _, err := l.UpdateLabel("call.mp3", "human"); err != nil {
		t.Fatalf("first update: %v", err)
	}
	first, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if _, err := l.UpdateLabel("call.mp3", "human"); err != nil {
		t.Fatalf("second update: %v", err)
	}
	second, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(first) != string(second) {
		t.Fatalf("repeated update changed content:\n%s\nvs\n%s", first, second)
	}
}

func TestUpdateLabelNotFound(t *testing.T) {
	l := openTestLedger(t)
	if err := l.Append(sampleRecord("call.mp3")); err != nil {
		t.Fatalf("append: %v", err)
	}
	before, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	ok, err := l.UpdateLabel("missing.mp3", "human")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatal("expected no match")
	}

	after, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("ledger changed on not-found update")
	}
}

func TestUpdateLabelEmptyLedger(t *testing.T) {
	l := openTestLedger(t)
	ok, err := l.UpdateLabel("call.mp3", "human")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatal("expected no match on empty ledger")
	}
}

func TestConcurrentAppends(t *testing.T) {
	l := openTestLedger(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := sampleRecord("call.mp3")
			r.Filename = fmt.Sprintf("call-%d.mp3", i)
			if err := l.Append(r); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	records, err := l.ListAll()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != n {
		t.Fatalf("expected %d records got %d", n, len(records))
	}

	data, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != n+1 {
		t.Fatalf("expected %d lines got %d", n+1, len(lines))
	}
	for i, line := range lines {
		if got := len(strings.Split(line, ",")); got != 6 {
			t.Fatalf("line %d malformed (%d fields): %q", i, got, line)
		}
	}
}

func TestOpenRejectsSecondHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "predictions.csv")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer l.Close()

	if _, err := Open(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected ErrLocked got %v", err)
	}
}
