package registry

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := New()
	r.Register("echo_agent", Entry{Path: "/usr/local/bin/echo_agent", Args: []string{"--quiet"}})

	entry, err := r.Resolve("echo_agent")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entry.Path != "/usr/local/bin/echo_agent" || len(entry.Args) != 1 {
		t.Errorf("Resolve returned unexpected entry: %+v", entry)
	}
}

func TestRegistry_ResolveUnknown(t *testing.T) {
	r := New()
	if _, err := r.Resolve("nope"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected ErrAgentNotFound, got %v", err)
	}
}

func TestLoadDir_OnlyRegistersExecutables(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bit semantics differ on windows")
	}
	dir := t.TempDir()

	exe := filepath.Join(dir, "shell_agent")
	if err := os.WriteFile(exe, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write executable: %v", err)
	}
	nonExe := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(nonExe, []byte("not runnable"), 0644); err != nil {
		t.Fatalf("write non-executable: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	r, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}

	names := r.Names()
	if len(names) != 1 || names[0] != "shell_agent" {
		t.Errorf("Names() = %v, want [shell_agent]", names)
	}
}

func TestRegistry_NamesIsSorted(t *testing.T) {
	r := New()
	r.Register("shell_agent", Entry{Path: "/bin/shell_agent"})
	r.Register("echo_agent", Entry{Path: "/bin/echo_agent"})
	r.Register("llm_router_agent", Entry{Path: "/bin/llm_router_agent"})

	names := r.Names()
	want := []string{"echo_agent", "llm_router_agent", "shell_agent"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}

func TestLoadDir_MissingDir(t *testing.T) {
	if _, err := LoadDir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
