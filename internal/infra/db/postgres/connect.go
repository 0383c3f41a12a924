package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
	"github.com/rotisserie/eris"

	"github.com/InahHwang/d-care-console-sub007/internal/resilience"
)

// pingPolicy covers a database container that starts after the service.
var pingPolicy = resilience.Policy{MaxAttempts: 5, Backoff: 2 * time.Second}

// Connect opens the pool and waits until the server answers a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "open postgres")
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := waitReady(ctx, db, pingPolicy); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func waitReady(ctx context.Context, db *sql.DB, p resilience.Policy) error {
	p.ShouldRetry = func(error) bool { return true }
	res := resilience.Do(ctx, p, func(ctx context.Context) (struct{}, error) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, db.PingContext(ctx)
	})
	if res.Err != nil {
		return eris.Wrapf(res.Err, "ping postgres after %d attempts", res.Attempts)
	}
	return nil
}
