package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 200
)

// Record is one completed prediction.
type Record struct {
	ID         int64     `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	RequestID  string    `json:"request_id"`
	Source     string    `json:"source"`
	Filename   string    `json:"filename"`
	Status     string    `json:"status"`
	Produce    string    `json:"produce"`
	Confidence float64   `json:"confidence"`
}

type HistoryRepo struct{ DB *sql.DB }

func NewHistoryRepo(db *sql.DB) *HistoryRepo { return &HistoryRepo{DB: db} }

// Open connects through the pgx stdlib driver and pings the server.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db.Ping: %w", err)
	}
	return db, nil
}

func (r *HistoryRepo) EnsureSchema(ctx context.Context) error {
	const table = `
create table if not exists predictions (
  id          bigserial primary key,
  created_at  timestamptz not null default now(),
  request_id  text not null,
  source      text not null,
  filename    text not null default '',
  status      text not null,
  produce     text not null,
  confidence  double precision not null
)`
	const index = `create index if not exists predictions_created_at_idx on predictions (created_at desc)`
	for _, q := range []string{table, index} {
		if _, err := r.DB.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (r *HistoryRepo) Insert(ctx context.Context, rec Record) error {
	const q = `
insert into predictions (request_id, source, filename, status, produce, confidence)
values ($1,$2,$3,$4,$5,$6)`
	_, err := r.DB.ExecContext(ctx, q,
		rec.RequestID, rec.Source, rec.Filename, rec.Status, rec.Produce, rec.Confidence)
	return err
}

// Recent returns the newest records first.
func (r *HistoryRepo) Recent(ctx context.Context, limit int) ([]Record, error) {
	const q = `
select id, created_at, request_id, source, filename, status, produce, confidence
from predictions
order by created_at desc, id desc
limit $1`
	rows, err := r.DB.QueryContext(ctx, q, ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.CreatedAt, &rec.RequestID, &rec.Source,
			&rec.Filename, &rec.Status, &rec.Produce, &rec.Confidence); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// PurgeOlderThan deletes records older than the given age.
func (r *HistoryRepo) PurgeOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("olderThan must be > 0")
	}
	cutoff := time.Now().Add(-olderThan)
	const q = `delete from predictions where created_at < $1`
	res, err := r.DB.ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	aff, _ := res.RowsAffected()
	return aff, nil
}

func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultRecentLimit
	case limit > MaxRecentLimit:
		return MaxRecentLimit
	default:
		return limit
	}
}

// SafeDSNSummary describes dsn for logs without the password.
func SafeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
