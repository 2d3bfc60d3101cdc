package runindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/joyshmitz/doodlestein-self-releaser/internal/manifest"
)

func TestOpenRunsMigrations(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "runindex.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	if got, err := idx.LastRun("widget", ""); err != nil || got != nil {
		t.Fatalf("expected no rows in a freshly migrated db, got %v, %v", got, err)
	}
}

func TestRecordAndLastRun(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "runindex.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	older := manifest.NewRun(manifest.NewRunID(time.Unix(1000, 0), 1), "widget", "1.0.0", []string{"linux/amd64"})
	older.StartedAt = time.Unix(1000, 0).UTC()
	older.AddResult(manifest.TargetResult{Platform: "linux/amd64", Status: manifest.TargetSuccess})
	older.Finalize()
	if err := idx.Record(older, time.Unix(1100, 0)); err != nil {
		t.Fatalf("Record (older): %v", err)
	}

	newer := manifest.NewRun(manifest.NewRunID(time.Unix(2000, 0), 2), "widget", "1.0.1", []string{"linux/amd64"})
	newer.StartedAt = time.Unix(2000, 0).UTC()
	newer.AddResult(manifest.TargetResult{Platform: "linux/amd64", Status: manifest.TargetFailure})
	newer.Finalize()
	if err := idx.Record(newer, time.Unix(2100, 0)); err != nil {
		t.Fatalf("Record (newer): %v", err)
	}

	got, err := idx.LastRun("widget", "")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if got == nil || got.RunID != newer.RunID {
		t.Fatalf("expected last run to be the more recently started run, got %+v", got)
	}
	if got.Status != string(manifest.StatusFailure) {
		t.Errorf("expected status failure, got %s", got.Status)
	}
	if got.FinishedAt == nil || !got.FinishedAt.Equal(time.Unix(2100, 0).UTC()) {
		t.Errorf("unexpected FinishedAt: %v", got.FinishedAt)
	}

	gotOlder, err := idx.LastRun("widget", "1.0.0")
	if err != nil {
		t.Fatalf("LastRun (version-scoped): %v", err)
	}
	if gotOlder == nil || gotOlder.RunID != older.RunID {
		t.Fatalf("expected version-scoped lookup to find the older run, got %+v", gotOlder)
	}
}

func TestRecordUpsertsOnReplay(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "runindex.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	r := manifest.NewRun(manifest.NewRunID(time.Unix(3000, 0), 3), "widget", "2.0.0", []string{"linux/amd64"})
	r.AddResult(manifest.TargetResult{Platform: "linux/amd64", Status: manifest.TargetSuccess})
	r.Finalize()
	if err := idx.Record(r, time.Unix(3100, 0)); err != nil {
		t.Fatalf("Record (initial): %v", err)
	}

	r.Status = manifest.StatusPartial
	if err := idx.Record(r, time.Unix(3200, 0)); err != nil {
		t.Fatalf("Record (replay): %v", err)
	}

	got, err := idx.LastRun("widget", "2.0.0")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if got.Status != string(manifest.StatusPartial) {
		t.Errorf("expected upsert to overwrite status, got %s", got.Status)
	}
}

func TestRecentOrdersNewestFirst(t *testing.T) {
	idx, err := Open(filepath.Join(t.TempDir(), "runindex.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer idx.Close()

	for i, ts := range []int64{1000, 3000, 2000} {
		r := manifest.NewRun(manifest.NewRunID(time.Unix(ts, 0), i), "widget", "1.0.0", []string{"linux/amd64"})
		r.StartedAt = time.Unix(ts, 0).UTC()
		r.Finalize()
		if err := idx.Record(r, time.Unix(ts+10, 0)); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := idx.Recent(10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(recent))
	}
	for i := 0; i < len(recent)-1; i++ {
		if recent[i].StartedAt.Before(recent[i+1].StartedAt) {
			t.Errorf("expected newest-first ordering, got %v before %v", recent[i].StartedAt, recent[i+1].StartedAt)
		}
	}
}
