package storage

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent opens the same directory twice and verifies no
// migration is applied a second time.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(versions) < 2 {
		t.Fatalf("expected at least two applied migrations, got %v", versions)
	}
	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_jobs_status_run_after", "idx_generations_created", "idx_generations_record"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_init.sql", 1, false},
		{"012_generations.sql", 12, false},
		{"init.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMigrationVersion(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMigrationVersion(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMigrationVersion(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

// --- items ---

func TestGetItem_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetItem(KeyTimelineEntries)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetItem error = %v, want ErrNotFound", err)
	}
}

func TestSetItem_Upserts(t *testing.T) {
	s := openTestStore(t)

	if err := s.SetItem(KeyHistoryClasses, `[]`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if err := s.SetItem(KeyHistoryClasses, `[{"id":"a"}]`); err != nil {
		t.Fatalf("SetItem (overwrite): %v", err)
	}

	got, err := s.GetItem(KeyHistoryClasses)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got != `[{"id":"a"}]` {
		t.Errorf("GetItem = %q, want %q", got, `[{"id":"a"}]`)
	}

	keys, err := s.ItemKeys()
	if err != nil {
		t.Fatalf("ItemKeys: %v", err)
	}
	if len(keys) != 1 || keys[0] != KeyHistoryClasses {
		t.Errorf("ItemKeys = %v, want [%s]", keys, KeyHistoryClasses)
	}
}

func TestRemoveItem(t *testing.T) {
	s := openTestStore(t)

	if err := s.RemoveItem("missing"); err != nil {
		t.Fatalf("RemoveItem on absent key: %v", err)
	}
	if err := s.SetItem(KeyAccessKey, "secret"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if err := s.RemoveItem(KeyAccessKey); err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if _, err := s.GetItem(KeyAccessKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetItem after remove error = %v, want ErrNotFound", err)
	}
}

func TestItemsSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s1.SetItem(KeyAISummaries, `{"1":{"succeeded":true}}`); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.GetItem(KeyAISummaries)
	if err != nil {
		t.Fatalf("GetItem: %v", err)
	}
	if got != `{"1":{"succeeded":true}}` {
		t.Errorf("GetItem = %q", got)
	}
}

// --- jobs ---

func TestEnqueueAndClaimJob(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-1", Type: "learning_enrich", PayloadJSON: `{"learning_id":"l1"}`}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"learning_enrich"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got == nil {
		t.Fatal("ClaimNextJob returned nil")
	}
	if got.ID != "job-1" {
		t.Errorf("ID = %q, want %q", got.ID, "job-1")
	}
	if got.Status != "running" {
		t.Errorf("Status = %q, want %q", got.Status, "running")
	}
	if got.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", got.MaxAttempts)
	}
	if got.PayloadJSON != `{"learning_id":"l1"}` {
		t.Errorf("PayloadJSON = %q", got.PayloadJSON)
	}
}

func TestClaimNextJob_Empty(t *testing.T) {
	s := openTestStore(t)

	got, err := s.ClaimNextJob([]string{"learning_enrich"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil job, got %+v", got)
	}

	got, err = s.ClaimNextJob(nil)
	if err != nil || got != nil {
		t.Errorf("ClaimNextJob(nil) = %+v, %v; want nil, nil", got, err)
	}
}

func TestClaimNextJob_RespectsRunAfter(t *testing.T) {
	s := openTestStore(t)

	job := Job{ID: "job-later", Type: "x", PayloadJSON: `{}`, RunAfter: time.Now().Add(time.Hour)}
	if err := s.EnqueueJob(job); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}

	got, err := s.ClaimNextJob([]string{"x"})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if got != nil {
		t.Errorf("expected future job to be skipped, got %q", got.ID)
	}
}

func TestClaimNextJob_TypeFilterAndSkipsRunning(t *testing.T) {
	s := openTestStore(t)

	for i, typ := range []string{"a", "b", "a"} {
		if err := s.EnqueueJob(Job{ID: fmt.Sprintf("j-%d", i), Type: typ, PayloadJSON: `{}`}); err != nil {
			t.Fatalf("EnqueueJob: %v", err)
		}
	}

	first, err := s.ClaimNextJob([]string{"a"})
	if err != nil || first == nil {
		t.Fatalf("first claim = %v, %v", first, err)
	}
	second, err := s.ClaimNextJob([]string{"a"})
	if err != nil || second == nil {
		t.Fatalf("second claim = %v, %v", second, err)
	}
	if first.ID == second.ID {
		t.Errorf("claimed %q twice", first.ID)
	}
	if first.Type != "a" || second.Type != "a" {
		t.Errorf("claimed types %q, %q; want a, a", first.Type, second.Type)
	}

	third, err := s.ClaimNextJob([]string{"a"})
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if third != nil {
		t.Errorf("expected no more type-a jobs, got %q", third.ID)
	}
}

func TestCompleteJob(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-complete", Type: "x", PayloadJSON: `{}`}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if err := s.CompleteJob("j-complete"); err != nil {
		t.Fatalf("CompleteJob: %v", err)
	}

	j, err := s.GetJob("j-complete")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "completed" {
		t.Errorf("status = %q, want %q", j.Status, "completed")
	}

	if err := s.CompleteJob("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteJob(missing) error = %v, want ErrNotFound", err)
	}
}

func TestFailJob_BacksOffThenFails(t *testing.T) {
	s := openTestStore(t)

	if err := s.EnqueueJob(Job{ID: "j-fail", Type: "x", PayloadJSON: `{}`, MaxAttempts: 2}); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if _, err := s.ClaimNextJob([]string{"x"}); err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}

	before := time.Now().UTC().Truncate(time.Second)
	if err := s.FailJob("j-fail", "upstream 500"); err != nil {
		t.Fatalf("FailJob: %v", err)
	}

	j, err := s.GetJob("j-fail")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "pending" {
		t.Errorf("status = %q, want %q", j.Status, "pending")
	}
	if j.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", j.Attempts)
	}
	if j.LastError != "upstream 500" {
		t.Errorf("last_error = %q, want %q", j.LastError, "upstream 500")
	}
	if !j.RunAfter.After(before) {
		t.Errorf("run_after %v should be after %v", j.RunAfter, before)
	}

	if err := s.FailJob("j-fail", "upstream 500 again"); err != nil {
		t.Fatalf("FailJob (second): %v", err)
	}
	j, err = s.GetJob("j-fail")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != "failed" {
		t.Errorf("status = %q, want %q", j.Status, "failed")
	}

	counts, err := s.JobCounts()
	if err != nil {
		t.Fatalf("JobCounts: %v", err)
	}
	if counts["failed"] != 1 {
		t.Errorf("JobCounts[failed] = %d, want 1", counts["failed"])
	}

	if err := s.FailJob("missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FailJob(missing) error = %v, want ErrNotFound", err)
	}
}

// --- generations ---

func TestSaveAndListGenerations(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		g := Generation{
			ID:         fmt.Sprintf("gen-%d", i),
			RecordID:   "rec-1",
			Kind:       "timeline",
			Intent:     "view",
			Model:      "gemini-2.0-flash",
			Status:     "succeeded",
			DurationMs: int64(100 * i),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveGeneration(g); err != nil {
			t.Fatalf("SaveGeneration: %v", err)
		}
	}

	got, err := s.ListGenerations(2, 0)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "gen-2" || got[1].ID != "gen-1" {
		t.Errorf("order = %q, %q; want gen-2, gen-1", got[0].ID, got[1].ID)
	}
	if !got[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v", got[0].CreatedAt)
	}

	if err := s.DeleteGenerationsFor("rec-1"); err != nil {
		t.Fatalf("DeleteGenerationsFor: %v", err)
	}
	got, err = s.ListGenerations(10, 0)
	if err != nil {
		t.Fatalf("ListGenerations: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len after delete = %d, want 0", len(got))
	}
}
