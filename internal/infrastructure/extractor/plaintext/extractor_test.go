package plaintext

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestExtractReadsUTF8Text(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("\n  Sleep hygiene matters.\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	pages, err := NewExtractor().Extract(context.Background(), path)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(pages) != 1 || pages[0] != "Sleep hygiene matters." {
		t.Fatalf("unexpected pages: %q", pages)
	}
	if NewExtractor().Paged() {
		t.Fatalf("plain text must not be paged")
	}
}

func TestExtractRejectsBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.txt")
	if err := os.WriteFile(path, []byte{0xff, 0xfe, 0x00, 0x81}, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := NewExtractor().Extract(context.Background(), path); err == nil {
		t.Fatalf("expected error for binary content")
	}
}

func TestExtractMissingFile(t *testing.T) {
	if _, err := NewExtractor().Extract(context.Background(), filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
