package report

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/deixis/procman/internal/runner"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Supported SQL drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `CREATE TABLE IF NOT EXISTS executions (
	run_id TEXT PRIMARY KEY,
	seq BIGINT NOT NULL,
	command_line TEXT NOT NULL,
	program TEXT NOT NULL,
	args TEXT NOT NULL,
	shell INTEGER NOT NULL,
	output TEXT NOT NULL,
	started_at TEXT NOT NULL,
	completed_at TEXT NOT NULL,
	duration_ns BIGINT NOT NULL,
	exit_code INTEGER NOT NULL,
	truncated INTEGER NOT NULL
)`

const columns = "run_id, seq, command_line, program, args, shell, output, started_at, completed_at, duration_ns, exit_code, truncated"

// ErrNotFound is returned by SQLStore.Load for unknown run ids.
var ErrNotFound = errors.New("run not found")

// SQLStore persists executions in a SQL database through database/sql.
type SQLStore struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex
}

// OpenSQL opens (and initialises) a store for driver, which must be
// DriverSQLite (dsn is a file path) or DriverPostgres (dsn is a connection
// string).
func OpenSQL(driver, dsn string) (*SQLStore, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", driver, err)
	}
	if driver == DriverSQLite {
		// A single connection serialises writers and keeps :memory: databases intact.
		db.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, driver: driver}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialising %s store: %w", driver, err)
	}
	return s, nil
}

// Save inserts an execution. Saving the same run twice is a no-op.
func (s *SQLStore) Save(e *runner.Execution) error {
	args, err := json.Marshal(e.Args)
	if err != nil {
		return fmt.Errorf("marshalling args of run %s: %w", e.RunID, err)
	}
	output, err := json.Marshal(e.Output)
	if err != nil {
		return fmt.Errorf("marshalling output of run %s: %w", e.RunID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.Exec(s.rebind(`INSERT INTO executions (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO NOTHING`),
		e.RunID,
		e.ID,
		e.CommandLine,
		e.Program,
		string(args),
		boolToInt(e.Shell),
		string(output),
		formatTime(e.StartedAt),
		formatTime(e.CompletedAt),
		int64(e.Duration),
		e.Code(),
		boolToInt(e.Truncated),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", e.RunID, err)
	}
	return nil
}

// Load returns the execution stored under runID.
func (s *SQLStore) Load(runID string) (*runner.Execution, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+columns+" FROM executions WHERE run_id = ?"), runID)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", runID, err)
	}
	return e, nil
}

// List returns executions matching q, newest first.
func (s *SQLStore) List(q Query) ([]runner.Execution, error) {
	var b strings.Builder
	b.WriteString("SELECT " + columns + " FROM executions")
	var where []string
	var args []any
	switch q.Status {
	case runner.StatusSuccess:
		where = append(where, "exit_code = 0")
	case runner.StatusError:
		where = append(where, "exit_code <> 0")
	}
	if q.Search != "" {
		// Literal, case-sensitive substring match, as Query.Match does.
		where = append(where, s.substring()+"(command_line, ?) > 0")
		args = append(args, q.Search)
	}
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY completed_at DESC, seq DESC")
	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(s.rebind(b.String()), args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []runner.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Clear deletes all stored executions.
func (s *SQLStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec("DELETE FROM executions")
	return err
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// substring names the driver's function returning the 1-based position of
// a substring, or 0 when absent.
func (s *SQLStore) substring() string {
	if s.driver == DriverPostgres {
		return "strpos"
	}
	return "instr"
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (*runner.Execution, error) {
	var (
		e                  runner.Execution
		args, output       string
		started, completed string
		duration           int64
		code               int
		shell, truncated   int
	)
	err := sc.Scan(&e.RunID, &e.ID, &e.CommandLine, &e.Program, &args, &shell, &output,
		&started, &completed, &duration, &code, &truncated)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(args), &e.Args); err != nil {
		return nil, fmt.Errorf("decoding args: %w", err)
	}
	if err := json.Unmarshal([]byte(output), &e.Output); err != nil {
		return nil, fmt.Errorf("decoding output: %w", err)
	}
	if e.StartedAt, err = time.Parse(timeLayout, started); err != nil {
		return nil, fmt.Errorf("decoding started_at: %w", err)
	}
	if e.CompletedAt, err = time.Parse(timeLayout, completed); err != nil {
		return nil, fmt.Errorf("decoding completed_at: %w", err)
	}
	e.Duration = time.Duration(duration)
	e.ExitCode = &code
	e.Shell = shell == 1
	e.Truncated = truncated == 1
	return &e, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
