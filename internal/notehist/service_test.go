package notehist

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestNoteHistoryLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, err := svc.RecordNote("client-1", "note-1", "Initial session. Intake complete.", "Dana Reyes", "Create note")
	if err != nil {
		t.Fatalf("RecordNote() error = %v", err)
	}
	if first.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if _, err := os.Stat(filepath.Join(tempDir, "client-1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	second, err := svc.RecordNote("client-1", "note-1", "Initial session. Intake complete. Addendum: homework assigned.", "Dana Reyes", "Amend note")
	if err != nil {
		t.Fatalf("RecordNote() amend error = %v", err)
	}

	history, err := svc.History("client-1", "note-1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(history))
	}
	if history[0].Hash != second.Hash {
		t.Fatalf("expected newest revision first, got %s", history[0].Hash)
	}

	original, err := svc.ContentAt("client-1", "note-1", first.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if strings.Contains(original, "Addendum") {
		t.Fatalf("first revision should predate the amendment: %q", original)
	}

	amended, err := svc.ContentAt("client-1", "note-1", second.Hash)
	if err != nil {
		t.Fatalf("ContentAt() amended error = %v", err)
	}
	if !strings.Contains(amended, "Addendum") {
		t.Fatalf("second revision should contain the amendment: %q", amended)
	}
}

func TestHistoryScopedToNote(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, err := svc.RecordNote("client-1", "note-1", "First note.", "Dana", "Create note"); err != nil {
		t.Fatalf("RecordNote() error = %v", err)
	}
	if _, err := svc.RecordNote("client-1", "note-2", "Second note.", "Dana", "Create note"); err != nil {
		t.Fatalf("RecordNote() error = %v", err)
	}
	if _, err := svc.RecordNote("client-1", "note-2", "Second note, amended.", "Dana", "Amend note"); err != nil {
		t.Fatalf("RecordNote() error = %v", err)
	}

	h1, err := svc.History("client-1", "note-1", 10)
	if err != nil {
		t.Fatalf("History(note-1) error = %v", err)
	}
	if len(h1) != 1 {
		t.Fatalf("expected 1 revision for note-1, got %d", len(h1))
	}

	h2, err := svc.History("client-1", "note-2", 10)
	if err != nil {
		t.Fatalf("History(note-2) error = %v", err)
	}
	if len(h2) != 2 {
		t.Fatalf("expected 2 revisions for note-2, got %d", len(h2))
	}
}

func TestConcurrentAmendsSameClient(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	if _, err := svc.RecordNote("client-1", "note-1", "Baseline.", "Dana", "Create note"); err != nil {
		t.Fatalf("RecordNote() error = %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := fmt.Sprintf("Baseline. Amendment %02d.", idx)
			if _, err := svc.RecordNote("client-1", "note-1", content, "Dana", fmt.Sprintf("Amend %02d", idx)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("RecordNote() concurrent error = %v", err)
		}
	}

	history, err := svc.History("client-1", "note-1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) < writers+1 {
		t.Fatalf("expected at least %d revisions, got %d", writers+1, len(history))
	}
}
