package history

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"furitingoasis/wiredin/internal/control"
)

func f(v float64) *float64 { return &v }

func TestStoreRecord(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO samples (temperature, humidity, distance, received_at) VALUES (?, ?, ?, ?)")).
		WithArgs(21.5, nil, nil, at.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := store.Record(context.Background(), control.Sample{Temperature: f(21.5), ReceivedAt: at}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}

	ex := store.Extremes()
	if ex.HighTemp == nil || *ex.HighTemp != 21.5 || ex.HighHumidity != nil {
		t.Fatalf("unexpected extremes %+v", ex)
	}
}

func TestStoreRecordFailureKeepsExtremes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db)
	mock.ExpectExec("INSERT INTO samples").WillReturnError(errors.New("disk I/O error"))

	err = store.Record(context.Background(), control.Sample{Humidity: f(40), ReceivedAt: time.Now()})
	if err == nil {
		t.Fatalf("expected record error")
	}
	if ex := store.Extremes(); ex.LowHumidity == nil || *ex.LowHumidity != 40 {
		t.Fatalf("extremes must still be updated, got %+v", ex)
	}
}

func TestStoreRecentDownsamples(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM samples")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT temperature, humidity, distance, received_at FROM samples ORDER BY id ASC")).
		WillReturnRows(sqlmock.NewRows([]string{"temperature", "humidity", "distance", "received_at"}).
			AddRow(20.0, 50.0, nil, base.UnixMilli()).
			AddRow(20.5, 51.0, nil, base.Add(time.Minute).UnixMilli()).
			AddRow(21.0, nil, 7.5, base.Add(2*time.Minute).UnixMilli()).
			AddRow(21.5, 53.0, nil, base.Add(3*time.Minute).UnixMilli()).
			AddRow(22.0, 54.0, nil, base.Add(4*time.Minute).UnixMilli()))

	got, err := New(db).Recent(context.Background(), 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 readings with stride 3, got %d", len(got))
	}
	if *got[0].Temperature != 20 || *got[1].Temperature != 21.5 {
		t.Fatalf("unexpected readings %+v", got)
	}
	if got[0].Distance != nil {
		t.Fatalf("NULL distance must stay absent")
	}
	if !got[1].Timestamp.Equal(base.Add(3 * time.Minute)) {
		t.Fatalf("unexpected timestamp %s", got[1].Timestamp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestStorePrune(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	cutoff := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM samples WHERE received_at < ?")).
		WithArgs(cutoff.UnixMilli()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := New(db).Prune(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 pruned rows, got %d", n)
	}
}

func TestExtremesResetDaily(t *testing.T) {
	var e Extremes
	day1 := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)
	e.Observe(f(18), f(60), day1)
	e.Observe(f(24), f(40), day1.Add(10*time.Minute))
	if *e.HighTemp != 24 || *e.LowTemp != 18 || *e.HighHumidity != 60 || *e.LowHumidity != 40 {
		t.Fatalf("unexpected extremes %+v", e)
	}

	e.Observe(f(19), nil, day1.Add(2*time.Hour))
	if *e.HighTemp != 19 || *e.LowTemp != 19 || e.HighHumidity != nil {
		t.Fatalf("extremes must reset on a new day, got %+v", e)
	}
}
