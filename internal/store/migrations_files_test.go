package store

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"testing"
)

func TestMigrationFilesArePairedAndSequential(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.(up|down)\.sql$`)
	directions := map[int]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("migration file %q does not match NNNN_name.{up,down}.sql", entry.Name())
		}
		version, _ := strconv.Atoi(match[1])
		if directions[version] == nil {
			directions[version] = map[string]bool{}
		}
		if directions[version][match[2]] {
			t.Fatalf("duplicate %s migration for version %04d", match[2], version)
		}
		directions[version][match[2]] = true
	}

	if len(directions) == 0 {
		t.Fatal("no migrations discovered")
	}

	versions := make([]int, 0, len(directions))
	for v := range directions {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	for i, v := range versions {
		if v != i+1 {
			t.Fatalf("migration versions must be contiguous from 0001, found %04d at position %d", v, i)
		}
		if !directions[v]["up"] || !directions[v]["down"] {
			t.Fatalf("version %04d must have both up and down files", v)
		}
	}
}

func TestMigrationsAreNonEmpty(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}
	for _, entry := range entries {
		body, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			t.Fatalf("read %s: %v", entry.Name(), err)
		}
		if len(body) == 0 {
			t.Fatalf("migration %s is empty", entry.Name())
		}
	}
}
