package file_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohammadpnp/suggestion-import/internal/infrastructure/file"
)

func TestLocalSourceOpensFilesUnderBaseDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "in"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "in", "a.parquet"), []byte("PAR1"), 0o644); err != nil {
		t.Fatal(err)
	}

	src := file.NewLocalSource(dir)
	for _, p := range []string{"in/a.parquet", "./in/../in/a.parquet", filepath.Join(dir, "in", "a.parquet")} {
		rc, err := src.Open(context.Background(), p)
		if err != nil {
			t.Fatalf("%s: expected no error, got %v", p, err)
		}
		b, _ := io.ReadAll(rc)
		rc.Close()
		if string(b) != "PAR1" {
			t.Fatalf("%s: unexpected content %q", p, b)
		}
		if _, ok := rc.(*os.File); !ok {
			t.Fatalf("%s: expected a seekable *os.File", p)
		}
	}
}

func TestLocalSourceRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := file.NewLocalSource(filepath.Join(dir, "base"))

	for _, p := range []string{"../secret.parquet", "in/../../secret.parquet", filepath.Join(dir, "secret.parquet")} {
		if _, err := src.Open(context.Background(), p); !errors.Is(err, file.ErrOutsideBaseDir) {
			t.Fatalf("%s: expected ErrOutsideBaseDir, got %v", p, err)
		}
	}
}

func TestLocalSourceMissingFile(t *testing.T) {
	t.Parallel()

	src := file.NewLocalSource(t.TempDir())
	_, err := src.Open(context.Background(), "missing.parquet")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not exist error, got %v", err)
	}
}
