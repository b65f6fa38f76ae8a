package service

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSideFileMovesWithSourcePrefix(t *testing.T) {
	srcDir := t.TempDir()
	errDir := filepath.Join(t.TempDir(), "_error")

	src := filepath.Join(srcDir, "broken.json")
	if err := os.WriteFile(src, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	dst, err := sideFile(src, "GFX_PC_01", errDir)
	if err != nil {
		t.Fatalf("sideFile() error = %v", err)
	}

	if filepath.Base(dst) != "GFX_PC_01_broken.json" {
		t.Errorf("destination = %s, want GFX_PC_01_broken.json", filepath.Base(dst))
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("source file still exists")
	}
	content, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read destination: %v", err)
	}
	if string(content) != "not json" {
		t.Errorf("content = %q", content)
	}
}

func TestSideFileAvoidsCollisions(t *testing.T) {
	srcDir := t.TempDir()
	errDir := t.TempDir()

	first := filepath.Join(srcDir, "broken.json")
	if err := os.WriteFile(first, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	firstDst, err := sideFile(first, "GFX_PC_01", errDir)
	if err != nil {
		t.Fatalf("sideFile() error = %v", err)
	}

	second := filepath.Join(srcDir, "broken.json")
	if err := os.WriteFile(second, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	secondDst, err := sideFile(second, "GFX_PC_01", errDir)
	if err != nil {
		t.Fatalf("sideFile() error = %v", err)
	}

	if firstDst == secondDst {
		t.Fatal("second move overwrote the first quarantined file")
	}
	if !strings.HasPrefix(filepath.Base(secondDst), "GFX_PC_01_broken") {
		t.Errorf("second destination = %s", filepath.Base(secondDst))
	}
	if content, _ := os.ReadFile(firstDst); string(content) != "one" {
		t.Errorf("first file content = %q, want one", content)
	}
	if content, _ := os.ReadFile(secondDst); string(content) != "two" {
		t.Errorf("second file content = %q, want two", content)
	}
}

func TestSideFileRejectsEmptyDir(t *testing.T) {
	if _, err := sideFile("/tmp/x.json", "GFX_PC_01", "  "); err == nil {
		t.Error("sideFile() succeeded with empty error dir")
	}
}
