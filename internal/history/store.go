// Package history keeps telemetry samples in a sqlite database and tracks
// the daily temperature and humidity extremes.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"furitingoasis/wiredin/internal/control"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
	CREATE TABLE IF NOT EXISTS samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		temperature REAL,
		humidity REAL,
		distance REAL,
		received_at INTEGER NOT NULL
	)`

// Reading is one stored sample as served by the history API.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Distance    *float64  `json:"distance,omitempty"`
}

// Store is not safe for concurrent Record calls; the hub loop is its only
// writer. Readers in other processes open the database themselves.
type Store struct {
	db       *sql.DB
	extremes Extremes
}

// Open opens (creating if needed) the sqlite database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create samples table: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record stores sample. Absent fields are stored as NULL. Extremes are
// updated even when the insert fails.
func (s *Store) Record(ctx context.Context, sample control.Sample) error {
	s.extremes.Observe(sample.Temperature, sample.Humidity, sample.ReceivedAt)
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO samples (temperature, humidity, distance, received_at) VALUES (?, ?, ?, ?)",
		nullable(sample.Temperature), nullable(sample.Humidity), nullable(sample.Distance),
		sample.ReceivedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record sample: %w", err)
	}
	return nil
}

// Extremes returns today's extremes as of the last recorded sample.
func (s *Store) Extremes() Extremes {
	return s.extremes
}

// Recent returns stored readings in chronological order, thinned by a fixed
// stride so that at most limit rows come back.
func (s *Store) Recent(ctx context.Context, limit int) ([]Reading, error) {
	if limit < 1 {
		return nil, nil
	}
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM samples").Scan(&total); err != nil {
		return nil, fmt.Errorf("count samples: %w", err)
	}
	step := 1
	if total > limit {
		step = int(math.Ceil(float64(total) / float64(limit)))
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT temperature, humidity, distance, received_at FROM samples ORDER BY id ASC")
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for i := 0; rows.Next(); i++ {
		var (
			temp, humidity, distance sql.NullFloat64
			at                       int64
		)
		if err := rows.Scan(&temp, &humidity, &distance, &at); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		if i%step != 0 {
			continue
		}
		out = append(out, Reading{
			Timestamp:   time.UnixMilli(at).UTC(),
			Temperature: value(temp),
			Humidity:    value(humidity),
			Distance:    value(distance),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return out, nil
}

// Prune deletes samples received before cutoff.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM samples WHERE received_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune samples: %w", err)
	}
	return res.RowsAffected()
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func value(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
