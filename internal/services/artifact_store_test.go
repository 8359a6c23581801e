package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/yungbote/certsig-backend/internal/platform/logger"
)

func TestArtifactStoreSaveAndRemove(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	path, err := store.Save("u1", "a.pdf", []byte("pdf"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if want := filepath.Join(store.Root(), "u1_certificates", "a.pdf"); path != want {
		t.Fatalf("path: want=%q got=%q", want, path)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("user dir should only hold the committed file, got %d entries", len(entries))
	}

	if err := store.Remove(path); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("file should be gone, stat err=%v", err)
	}
	if err := store.Remove(path); err != nil {
		t.Fatalf("Remove twice: %v", err)
	}
	if err := store.Remove(filepath.Join(store.Root(), "..", "elsewhere.pdf")); err == nil {
		t.Fatalf("Remove outside root: expected error")
	}
}

func TestArtifactStoreSaveRejectsEscapingNames(t *testing.T) {
	parent := t.TempDir()
	store, err := NewArtifactStore(filepath.Join(parent, "out"), logger.Nop())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	for _, name := range []string{"", ".", "..", "../../escaped/AC/DC_2025-01-15_10Aa.pdf", "sub/a.pdf"} {
		if _, err := store.Save("u1", name, []byte("pdf")); err == nil {
			t.Fatalf("Save(%q): expected error", name)
		}
	}
	if _, err := os.Stat(filepath.Join(parent, "escaped")); !os.IsNotExist(err) {
		t.Fatalf("directory created outside the output root, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Root(), "u1_certificates")); !os.IsNotExist(err) {
		t.Fatalf("rejected save should not create the user dir, stat err=%v", err)
	}
}

func TestArtifactStoreParallelSameUser(t *testing.T) {
	store, err := NewArtifactStore(t.TempDir(), logger.Nop())
	if err != nil {
		t.Fatalf("NewArtifactStore: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := serialFor(i) + ".pdf"
			if _, err := store.Save("same-user", name, []byte(name)); err != nil {
				t.Errorf("Save(%s): %v", name, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestArchiveKey(t *testing.T) {
	if got := ArchiveKey("u1", "a.pdf"); got != "u1_certificates/a.pdf" {
		t.Fatalf("ArchiveKey: got=%q", got)
	}
	var a *Archiver
	if got := a.Archive(context.Background(), "u1", "a.pdf", nil); got != "" {
		t.Fatalf("nil archiver: want empty url got=%q", got)
	}
}
