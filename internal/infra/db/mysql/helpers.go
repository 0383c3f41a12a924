package mysql

import (
	"database/sql"
	"strings"
	"time"

	"github.com/InahHwang/d-care-console-sub007/internal/domain/calls"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// nullIfEmpty stores blank strings as NULL
func nullIfEmpty(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func utcNow() time.Time { return time.Now().UTC() }

// affectedOne maps a zero-row update to calls.ErrNotFound.
func affectedOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return calls.ErrNotFound
	}
	return nil
}
