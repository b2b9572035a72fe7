package outbox

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestOpenCreatesStructure(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(filepath.Join(dir, "outbox")); err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, sub := range []string{"tmp", "new", "cur"} {
		info, err := os.Stat(filepath.Join(dir, "outbox", sub))
		if err != nil || !info.IsDir() {
			t.Fatalf("missing maildir subdirectory %s", sub)
		}
	}
}

func TestAddAndRead(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	key, err := m.Add([]byte("Subject: hello\r\n\r\nbody"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if ok, _ := regexp.MatchString(`^\d+M\d+_[0-9a-f-]{36}$`, key); !ok {
		t.Fatalf("unexpected key format %q", key)
	}

	data, err := m.Message(key)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if !strings.Contains(string(data), "Subject: hello") {
		t.Fatalf("message content lost: %q", data)
	}

	entries, _ := os.ReadDir(filepath.Join(m.Dir(), "tmp"))
	if len(entries) != 0 {
		t.Fatal("tmp should be empty after commit")
	}
}

func TestKeysOrdered(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := m.Add([]byte("msg")); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	keys, err := m.Keys()
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	if len(keys) != 3 {
		t.Fatalf("Keys = %d, want 3", len(keys))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("keys out of order: %q > %q", keys[i-1], keys[i])
		}
	}
}

func TestDiscard(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	key, err := m.Add([]byte("msg"))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := m.Discard(key); err != nil {
		t.Fatalf("Discard: %v", err)
	}
	if n, _ := m.Len(); n != 0 {
		t.Fatalf("Len = %d after discard, want 0", n)
	}
	if err := m.Discard(key); err != nil {
		t.Fatalf("Discard of missing key should be a no-op, got %v", err)
	}
}
