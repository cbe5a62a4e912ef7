// Package recorder is the flight recorder: it logs sessions, scheduler
// events and periodic state samples to a SQLite database.
package recorder

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	_ "github.com/mattn/go-sqlite3"

	"github.com/signalsfoundry/flight-sitl/internal/logging"
	"github.com/signalsfoundry/flight-sitl/internal/sim"
	"github.com/signalsfoundry/flight-sitl/model"
)

// DefaultSampleInterval is how often RunSampler reads the latest snapshot.
const DefaultSampleInterval = 100 * time.Millisecond

// ErrClosed is returned after Close.
var ErrClosed = errors.New("recorder: closed")

// SnapshotSource is the read side of the state bridge.
type SnapshotSource interface {
	Snapshot() (model.TickState, bool)
}

// EventRow is one recorded scheduler event.
type EventRow struct {
	Tick      uint64
	Kind      string
	Stage     string
	Error     string
	Behind    time.Duration
	Lifecycle string
	Mode      string
}

// SampleRow is one recorded state sample.
type SampleRow struct {
	Seq      uint64
	SimTime  time.Duration
	Mode     string
	Roll     float64
	Pitch    float64
	Yaw      float64
	Altitude float64
	Airspeed float64
	Throttle float64
	Armed    bool
}

// Recorder writes to a SQLite file. The database is opened on first use.
// It implements sim.EventSink.
type Recorder struct {
	dbPath string
	log    logging.Logger

	db     *sql.DB
	dbOnce sync.Once
	dbErr  error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	events  atomic.Uint64
	samples atomic.Uint64
	failed  atomic.Uint64
}

var _ sim.EventSink = (*Recorder)(nil)

// New returns a Recorder for dbPath. log may be nil.
func New(dbPath string, log logging.Logger) *Recorder {
	if log == nil {
		log = logging.Noop()
	}
	return &Recorder{dbPath: dbPath, log: log.With(logging.String("component", "recorder"))}
}

func (r *Recorder) getDB() (*sql.DB, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	r.dbOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", r.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"))
		if err != nil {
			r.dbErr = fmt.Errorf("opening database: %w", err)
			return
		}
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)

		if _, err = db.Exec(initSchemaSQL); err != nil {
			_ = db.Close()
			r.dbErr = fmt.Errorf("initializing schema: %w", err)
			return
		}
		r.db = db
	})
	return r.db, r.dbErr
}

// BeginSession records the start of a session. config is stored as JSON.
func (r *Recorder) BeginSession(ctx context.Context, sessionID string, config any) error {
	var configData sql.NullString
	if config != nil {
		p, err := json.Marshal(config)
		if err != nil {
			return fmt.Errorf("marshaling config: %w", err)
		}
		configData = sql.NullString{String: string(p), Valid: true}
	}

	db, err := r.getDB()
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, insertSessionSQL, sessionID, configData); err != nil {
		return fmt.Errorf("inserting session: %w", err)
	}
	return nil
}

// EndSession stamps the session's end time and result ("ok" when runErr is
// nil, else its message).
func (r *Recorder) EndSession(ctx context.Context, sessionID string, runErr error) error {
	result := "ok"
	if runErr != nil {
		result = runErr.Error()
	}
	db, err := r.getDB()
	if err != nil {
		return err
	}
	if _, err = db.ExecContext(ctx, finishSessionSQL, result, sessionID); err != nil {
		return fmt.Errorf("finishing session: %w", err)
	}
	return nil
}

// RecordEvent stores ev. Failures are logged and counted; they never reach
// the scheduler.
func (r *Recorder) RecordEvent(ctx context.Context, sessionID string, ev sim.Event) {
	if err := r.insertEvent(ctx, sessionID, ev); err != nil {
		r.fail(ctx, "event insert failed", err)
		return
	}
	r.events.Add(1)
}

func (r *Recorder) insertEvent(ctx context.Context, sessionID string, ev sim.Event) error {
	db, err := r.getDB()
	if err != nil {
		return err
	}

	var (
		stage, errText, lifecycle, mode sql.NullString
		behind                          sql.NullInt64
	)
	if ev.Stage != "" {
		stage = sql.NullString{String: ev.Stage, Valid: true}
	}
	if ev.Err != nil {
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	}
	switch ev.Kind {
	case sim.EventResync:
		behind = sql.NullInt64{Int64: int64(ev.Behind), Valid: true}
	case sim.EventLifecycle:
		lifecycle = sql.NullString{String: ev.Lifecycle.String(), Valid: true}
		mode = sql.NullString{String: ev.Mode.String(), Valid: true}
	}
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	_, err = db.ExecContext(ctx, insertEventSQL,
		sessionID, ev.Tick, at.UTC(), ev.Kind.String(),
		stage, errText, behind, lifecycle, mode,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

// RecordSample stores one snapshot.
func (r *Recorder) RecordSample(ctx context.Context, sessionID string, ts model.TickState) error {
	db, err := r.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, insertSampleSQL,
		sessionID, ts.Seq, int64(ts.SimTime), ts.Mode.String(),
		ts.Roll, ts.Pitch, ts.Yaw,
		ts.Latitude, ts.Longitude, ts.Altitude,
		ts.Airspeed, ts.Heading, ts.Fuel, ts.RPM,
		ts.Outputs.Roll, ts.Outputs.Pitch, ts.Outputs.Yaw, ts.Outputs.Throttle,
		ts.Armed,
	)
	if err != nil {
		return fmt.Errorf("inserting sample: %w", err)
	}
	r.samples.Add(1)
	return nil
}

// RunSampler records the latest snapshot every interval until ctx is done.
// Snapshots whose Seq has not moved since the last sample are skipped.
func (r *Recorder) RunSampler(ctx context.Context, sessionID string, src SnapshotSource, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last    uint64
		sampled bool
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		ts, ok := src.Snapshot()
		if !ok || (sampled && ts.Seq == last) {
			continue
		}
		if err := r.RecordSample(ctx, sessionID, ts); err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			r.fail(ctx, "sample insert failed", err)
			continue
		}
		last, sampled = ts.Seq, true
	}
}

// Events returns the recorded events of a session in insertion order.
func (r *Recorder) Events(ctx context.Context, sessionID string) (rows []EventRow, err error) {
	db, err := r.getDB()
	if err != nil {
		return nil, err
	}
	q, err := db.QueryContext(ctx, selectEventsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer func() {
		if cErr := q.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for q.Next() {
		var (
			row    EventRow
			behind int64
		)
		if err = q.Scan(&row.Tick, &row.Kind, &row.Stage, &row.Error, &behind, &row.Lifecycle, &row.Mode); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		row.Behind = time.Duration(behind)
		rows = append(rows, row)
	}
	return rows, q.Err()
}

// Samples returns the recorded samples of a session ordered by Seq.
func (r *Recorder) Samples(ctx context.Context, sessionID string) (rows []SampleRow, err error) {
	db, err := r.getDB()
	if err != nil {
		return nil, err
	}
	q, err := db.QueryContext(ctx, selectSamplesSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying samples: %w", err)
	}
	defer func() {
		if cErr := q.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for q.Next() {
		var (
			row     SampleRow
			simTime int64
		)
		if err = q.Scan(&row.Seq, &simTime, &row.Mode, &row.Roll, &row.Pitch, &row.Yaw,
			&row.Altitude, &row.Airspeed, &row.Throttle, &row.Armed); err != nil {
			return nil, fmt.Errorf("scanning sample: %w", err)
		}
		row.SimTime = time.Duration(simTime)
		rows = append(rows, row)
	}
	return rows, q.Err()
}

// SessionResult returns the result stored by EndSession, or "" while the
// session is still open.
func (r *Recorder) SessionResult(ctx context.Context, sessionID string) (string, error) {
	db, err := r.getDB()
	if err != nil {
		return "", err
	}
	var result string
	if err := db.QueryRowContext(ctx, selectSessionResultSQL, sessionID).Scan(&result); err != nil {
		return "", fmt.Errorf("reading session: %w", err)
	}
	return result, nil
}

// SessionRow is one recorded session.
type SessionRow struct {
	ID     string
	Result string
}

// Sessions lists every recorded session, oldest first.
func (r *Recorder) Sessions(ctx context.Context) (rows []SessionRow, err error) {
	db, err := r.getDB()
	if err != nil {
		return nil, err
	}
	q, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer func() {
		if cErr := q.Close(); cErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", cErr)
		}
	}()

	for q.Next() {
		var row SessionRow
		if err = q.Scan(&row.ID, &row.Result); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, q.Err()
}

// Close logs totals and closes the database. It is safe to call twice.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		r.closed.Store(true)
		if r.db == nil {
			return
		}
		r.closeErr = r.db.Close()

		fields := []logging.Field{
			logging.String("events", humanize.Comma(int64(r.events.Load()))),
			logging.String("samples", humanize.Comma(int64(r.samples.Load()))),
			logging.Uint64("failed", r.failed.Load()),
			logging.String("path", r.dbPath),
		}
		if fi, err := os.Stat(r.dbPath); err == nil {
			fields = append(fields, logging.String("size", humanize.Bytes(uint64(fi.Size()))))
		}
		r.log.Info(context.Background(), "flight recorder closed", fields...)
	})
	return r.closeErr
}

func (r *Recorder) fail(ctx context.Context, msg string, err error) {
	// Log the first failure and every thousandth after it.
	if n := r.failed.Add(1); n == 1 || n%1000 == 0 {
		r.log.Warn(ctx, msg, logging.Err(err), logging.Uint64("failures", n))
	}
}
