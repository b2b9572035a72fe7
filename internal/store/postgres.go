package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Paging describes list-endpoint pagination. Marker is id-based and takes
// precedence over Offset when both are set.
type Paging struct {
	Limit     int
	Marker    int64
	Offset    int
	SortField string
	SortDir   string
}

// orderClause builds an ORDER BY fragment from the paging sort parameters,
// restricted to a caller-supplied set of sortable columns so user input never
// reaches the SQL text.
func orderClause(p Paging, allowed map[string]string, fallback string) string {
	col, ok := allowed[p.SortField]
	if !ok {
		col = fallback
	}
	dir := "ASC"
	if strings.EqualFold(p.SortDir, "desc") {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s, id %s", col, dir, dir)
}

func limitClause(p Paging) string {
	clause := ""
	if p.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", p.Limit)
	}
	if p.Marker == 0 && p.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", p.Offset)
	}
	return clause
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique-constraint error.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "SQLSTATE 23505")
}
