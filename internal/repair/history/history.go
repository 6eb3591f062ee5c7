package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"repairBack/internal/repair/fsm"
)

// Entry is one committed status change of a request.
type Entry struct {
	RequestID int64      `json:"request_id"`
	From      fsm.Status `json:"from"`
	To        fsm.Status `json:"to"`
	Event     fsm.Event  `json:"event"`
	ActorID   int64      `json:"actor_id"`
	ActorRole fsm.Role   `json:"actor_role"`
	Note      string     `json:"note,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Recorder stores history entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
	List(ctx context.Context, requestID int64) ([]Entry, error)
}

// Drivers accepted by Open.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

const schema = `CREATE TABLE IF NOT EXISTS repair_status_history (
	request_id BIGINT NOT NULL,
	from_status VARCHAR(64) NOT NULL,
	to_status VARCHAR(64) NOT NULL,
	event VARCHAR(64) NOT NULL,
	actor_id BIGINT NOT NULL,
	actor_role VARCHAR(16) NOT NULL,
	note TEXT NULL,
	created_at TIMESTAMP NOT NULL
)`

// Open connects to the audit database and checks the connection.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverMySQL, DriverPostgres:
	default:
		return nil, fmt.Errorf("history: unsupported driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxIdleConns(5)
	return db, nil
}

// Repo writes history into the repair_status_history table.
type Repo struct {
	db     *sql.DB
	driver string
}

// NewRepo constructs a Repo for the given driver name.
func NewRepo(db *sql.DB, driver string) *Repo {
	return &Repo{db: db, driver: driver}
}

// Migrate creates the history table when it does not exist.
func (r *Repo) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Record inserts one entry.
func (r *Repo) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	query := rebind(r.driver, `INSERT INTO repair_status_history (request_id, from_status, to_status, event, actor_id, actor_role, note, created_at) VALUES (?,?,?,?,?,?,?,?)`)
	_, err := r.db.ExecContext(ctx, query, e.RequestID, string(e.From), string(e.To), string(e.Event), e.ActorID, string(e.ActorRole), nullIfEmpty(e.Note), e.CreatedAt)
	return err
}

// List returns the history of a request, oldest first.
func (r *Repo) List(ctx context.Context, requestID int64) ([]Entry, error) {
	query := rebind(r.driver, `SELECT request_id, from_status, to_status, event, actor_id, actor_role, note, created_at FROM repair_status_history WHERE request_id = ? ORDER BY created_at ASC`)
	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e                  Entry
			from, to, ev, role string
			note               sql.NullString
		)
		if err := rows.Scan(&e.RequestID, &from, &to, &ev, &e.ActorID, &role, &note, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.From, e.To, e.Event, e.ActorRole = fsm.Status(from), fsm.Status(to), fsm.Event(ev), fsm.Role(role)
		e.Note = note.String
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// rebind turns ? placeholders into $n for the pgx driver.
func rebind(driver, query string) string {
	if driver != DriverPostgres {
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

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Noop discards entries. It is used when no database is configured.
type Noop struct{}

func (Noop) Record(context.Context, Entry) error { return nil }

func (Noop) List(context.Context, int64) ([]Entry, error) { return nil, nil }
