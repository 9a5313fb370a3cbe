package permission

import (
	"path/filepath"
	"testing"
)

func TestSQLiteWorkspaceStoreDurability(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.db")

	store, err := NewSQLiteWorkspaceStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Approve("/tmp/project", []string{"bash:git", "read:/tmp/*"}); err != nil {
		t.Fatalf("approve: %v", err)
	}
	// Read-after-write on the same handle.
	patterns, err := store.Approved("/tmp/project")
	if err != nil {
		t.Fatalf("approved: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns, got %v", patterns)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Approvals survive reopening the database.
	reopened, err := NewSQLiteWorkspaceStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer reopened.Close()

	patterns, err = reopened.Approved("/tmp/project")
	if err != nil {
		t.Fatalf("approved after reopen: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("expected 2 patterns after reopen, got %v", patterns)
	}

	// Other directories stay empty.
	patterns, err = reopened.Approved("/tmp/other")
	if err != nil {
		t.Fatalf("approved other: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("unrelated directory should have no approvals, got %v", patterns)
	}
}

func TestSQLiteWorkspaceStoreApproveIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "permissions.db")
	store, err := NewSQLiteWorkspaceStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	for i := 0; i < 3; i++ {
		if err := store.Approve("/tmp/project", []string{"bash:git"}); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	patterns, err := store.Approved("/tmp/project")
	if err != nil {
		t.Fatalf("approved: %v", err)
	}
	if len(patterns) != 1 || patterns[0] != "bash:git" {
		t.Fatalf("duplicate approvals should collapse, got %v", patterns)
	}
}

func TestWorkspaceKeyNormalization(t *testing.T) {
	base := WorkspaceKey("/tmp/project")
	for _, dir := range []string{"/tmp/project/", "/Tmp/Project", "/tmp/project/../project"} {
		if got := WorkspaceKey(dir); got != base {
			t.Errorf("WorkspaceKey(%q) = %s, want %s", dir, got, base)
		}
	}
	if WorkspaceKey("/tmp/other") == base {
		t.Error("distinct directories must not share a workspace key")
	}
}

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern, key string
		want         bool
	}{
		{"bash:git", "bash:git", true},
		{"bash:git", "bash:rm", false},
		{"bash:*", "bash:run", true},
		{"bash:*", "read:/tmp/x", false},
		{"read:/tmp/*", "read:/tmp/notes.txt", true},
		{"read:/tmp/*", "read:/etc/passwd", false},
		{"", "bash:git", false},
		{"*", "anything", true},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.key); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.key, got, tc.want)
		}
	}
}
