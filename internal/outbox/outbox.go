// Package outbox implements a maildir-style spool for outgoing email.
// Messages are written durably before any delivery attempt, so a crash
// between queueing and sending never loses mail.
package outbox

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// Maildir is a spool directory in maildir layout (tmp/, new/, cur/).
// Messages land in tmp/ first and are renamed into new/ once complete, so
// readers never observe a partial write.
type Maildir struct {
	dir string
}

// Open creates the maildir structure under dir if needed and returns it.
func Open(dir string) (*Maildir, error) {
	for _, sub := range []string{"tmp", "new", "cur"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o700); err != nil {
			return nil, fmt.Errorf("create maildir %s: %w", sub, err)
		}
	}
	return &Maildir{dir: dir}, nil
}

// Dir returns the spool root.
func (m *Maildir) Dir() string {
	return m.dir
}

// Add writes a message to the spool and returns its key. The key encodes
// the enqueue time so directory order roughly matches queue order.
func (m *Maildir) Add(msg []byte) (string, error) {
	now := time.Now()
	key := fmt.Sprintf("%dM%d_%s", now.Unix(), now.Nanosecond()/1000, uuid.New())

	tmpPath := filepath.Join(m.dir, "tmp", key)
	if err := atomic.WriteFile(tmpPath, bytes.NewReader(msg)); err != nil {
		return "", fmt.Errorf("spool message: %w", err)
	}
	if err := os.Rename(tmpPath, filepath.Join(m.dir, "new", key)); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("commit message: %w", err)
	}
	return key, nil
}

// Keys lists pending message keys in enqueue order.
func (m *Maildir) Keys() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(m.dir, "new"))
	if err != nil {
		return nil, fmt.Errorf("list spool: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Message reads the raw bytes of a spooled message.
func (m *Maildir) Message(key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, "new", key))
	if err != nil {
		return nil, fmt.Errorf("read message %s: %w", key, err)
	}
	return data, nil
}

// Discard removes a message from the spool.
func (m *Maildir) Discard(key string) error {
	if err := os.Remove(filepath.Join(m.dir, "new", key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard message %s: %w", key, err)
	}
	return nil
}

// Len returns the number of pending messages.
func (m *Maildir) Len() (int, error) {
	keys, err := m.Keys()
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}
