package archive

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestDocumentArchiveLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Snapshot{
		Title:       "Access Control Policy",
		TemplateKey: "access_control_policy",
		Version:     1,
		Params:      json.RawMessage(`{"org_name":"Acme","password_min_length":14}`),
		HTML:        "<h1>Access Control Policy</h1>",
	}

	if err := svc.EnsureDocumentArchive("doc_1", initial, "alice@acme.test"); err != nil {
		t.Fatalf("EnsureDocumentArchive() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc_1")); err != nil {
		t.Fatalf("archive directory missing: %v", err)
	}

	// repeat is a no-op
	if err := svc.EnsureDocumentArchive("doc_1", initial, "alice@acme.test"); err != nil {
		t.Fatalf("EnsureDocumentArchive() repeat error = %v", err)
	}

	next := initial
	next.Version = 2
	next.Params = json.RawMessage(`{"org_name":"Acme","password_min_length":16}`)
	commit, err := svc.CommitVersion("doc_1", next, "alice@acme.test", "Add version 2")
	if err != nil {
		t.Fatalf("CommitVersion() error = %v", err)
	}
	if commit.Hash == "" {
		t.Fatal("expected commit hash")
	}
	if len(commit.Hash) != 7 {
		t.Fatalf("expected abbreviated hash, got %q", commit.Hash)
	}

	history, err := svc.History("doc_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Message != "Add version 2" {
		t.Fatalf("expected newest first, got %q", history[0].Message)
	}

	snap, err := svc.SnapshotByHash("doc_1", commit.Hash)
	if err != nil {
		t.Fatalf("SnapshotByHash() error = %v", err)
	}
	if snap.Version != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestConcurrentCommitsSameDocument(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	initial := Snapshot{
		Title:       "Acceptable Use Policy",
		TemplateKey: "acceptable_use_policy",
		Version:     1,
		HTML:        "<h1>Acceptable Use Policy</h1>",
	}
	if err := svc.EnsureDocumentArchive("doc_1", initial, "bob@acme.test"); err != nil {
		t.Fatalf("EnsureDocumentArchive() error = %v", err)
	}

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			next := initial
			next.Version = idx + 2
			if _, err := svc.CommitVersion("doc_1", next, "bob@acme.test", fmt.Sprintf("Add version %d", idx+2)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("CommitVersion() concurrent error = %v", err)
		}
	}

	history, err := svc.History("doc_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers+1 {
		t.Fatalf("expected %d commits, got %d", writers+1, len(history))
	}
}
