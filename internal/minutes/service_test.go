package minutes

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestMeetingLedgerLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Minutes{MeetingTitle: "Q3 Board Meeting"}

	if err := svc.EnsureMeetingRepo("mtg-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureMeetingRepo() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "mtg-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	updated := initial
	updated.Entries = append(updated.Entries, Entry{
		MotionID:  "mot-1",
		Title:     "Adopt the budget",
		Outcome:   "passed",
		For:       5,
		Against:   2,
		Abstain:   1,
		DecidedAt: time.Now().UTC(),
	})
	commit, err := svc.CommitMinutes("mtg-1", updated, "Avery", "Record decision on mot-1")
	if err != nil {
		t.Fatalf("CommitMinutes() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}

	history, err := svc.History("mtg-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 history entries, got %d", len(history))
	}

	head, headCommit, err := svc.GetHeadMinutes("mtg-1")
	if err != nil {
		t.Fatalf("GetHeadMinutes() error = %v", err)
	}
	if headCommit.Hash != commit.Hash {
		t.Fatalf("head commit = %s, want %s", headCommit.Hash, commit.Hash)
	}
	if len(head.Entries) != 1 || head.Entries[0].Outcome != "passed" {
		t.Fatalf("unexpected head minutes: %+v", head)
	}

	atRevision, err := svc.GetMinutesByHash("mtg-1", commit.Hash)
	if err != nil {
		t.Fatalf("GetMinutesByHash() error = %v", err)
	}
	if atRevision.Entries[0].MotionID != "mot-1" {
		t.Fatalf("unexpected minutes at revision: %+v", atRevision)
	}
}

func TestEnsureMeetingRepoIsIdempotent(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureMeetingRepo("mtg-1", Minutes{MeetingTitle: "First"}, "Avery"); err != nil {
		t.Fatalf("EnsureMeetingRepo() error = %v", err)
	}
	if err := svc.EnsureMeetingRepo("mtg-1", Minutes{MeetingTitle: "Second"}, "Avery"); err != nil {
		t.Fatalf("EnsureMeetingRepo() second call error = %v", err)
	}

	head, _, err := svc.GetHeadMinutes("mtg-1")
	if err != nil {
		t.Fatalf("GetHeadMinutes() error = %v", err)
	}
	if head.MeetingTitle != "First" {
		t.Fatalf("second ensure overwrote ledger: %+v", head)
	}
}

func TestTagAdjournment(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if err := svc.EnsureMeetingRepo("mtg-1", Minutes{MeetingTitle: "Board"}, "Avery"); err != nil {
		t.Fatalf("EnsureMeetingRepo() error = %v", err)
	}
	commit, err := svc.CommitMinutes("mtg-1", Minutes{MeetingTitle: "Board"}, "Avery", "Adjourn")
	if err != nil {
		t.Fatalf("CommitMinutes() error = %v", err)
	}

	if err := svc.TagAdjournment("mtg-1", commit.Hash, "adjourned-2026-08-30"); err != nil {
		t.Fatalf("TagAdjournment() error = %v", err)
	}
	// Tagging the same revision twice must not fail.
	if err := svc.TagAdjournment("mtg-1", commit.Hash, "adjourned-2026-08-30"); err != nil {
		t.Fatalf("TagAdjournment() repeat error = %v", err)
	}
}

func TestConcurrentCommitMinutes(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Minutes{MeetingTitle: "Board"}
	if err := svc.EnsureMeetingRepo("mtg-1", initial, "Avery"); err != nil {
		t.Fatalf("EnsureMeetingRepo() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := initial
			next.Entries = []Entry{{
				MotionID: fmt.Sprintf("mot-%02d", idx),
				Title:    fmt.Sprintf("Motion %02d", idx),
				Outcome:  "passed",
			}}
			if _, err := svc.CommitMinutes("mtg-1", next, "Avery", fmt.Sprintf("Commit %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitMinutes() concurrent error = %v", err)
		}
	}

	history, err := svc.History("mtg-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d commits in history, got %d", writers+1, len(history))
	}
}
