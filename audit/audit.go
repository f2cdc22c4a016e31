// Package audit keeps a trail of the commands run through the debug console
// in a SQLite database and serves it back as the "history" command.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/crazyhappygame/axmol/console"
)

const (
	// DefaultHistory is how many entries "history" prints without a count.
	DefaultHistory = 20

	// maxArgsLength bounds the stored argument text; uploads carry whole
	// files.
	maxArgsLength = 256
)

const schema = `
CREATE TABLE IF NOT EXISTS commands (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at INTEGER NOT NULL,
	session TEXT NOT NULL,
	remote TEXT NOT NULL,
	command TEXT NOT NULL,
	args TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commands_session ON commands(session);
`

// Entry is one audited command.
type Entry struct {
	ID      int64
	Time    time.Time
	Session string
	Remote  string
	Command string
	Args    string
}

// String renders the entry the way "history" prints it.
func (e Entry) String() string {
	line := e.Command
	if e.Args != "" {
		line += " " + e.Args
	}
	return fmt.Sprintf("%s  %-21s  %s", e.Time.Format(time.TimeOnly), e.Remote, line)
}

// Store is a SQLite-backed audit trail.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
}

// Open opens or creates the audit database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// All writes come from the console goroutine.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}
	return &Store{db: db, log: logger, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends e and returns its id. Args longer than the storage limit
// are cut.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO commands (at, session, remote, command, args) VALUES (?, ?, ?, ?, ?)`,
		e.Time.UnixNano(), e.Session, e.Remote, e.Command, truncate(e.Args, maxArgsLength))
	if err != nil {
		return 0, fmt.Errorf("failed to record command: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns the last n entries, oldest first.
func (s *Store) Recent(ctx context.Context, n int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, session, remote, command, args FROM commands ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var at int64
		if err := rows.Scan(&e.ID, &at, &e.Session, &e.Remote, &e.Command, &e.Args); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		e.Time = time.Unix(0, at)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Count returns the number of recorded commands.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM commands`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return n, nil
}

// Hook returns a console.CommandHook that records every command. Failures
// are logged; they never reach the session.
func (s *Store) Hook() console.CommandHook {
	return func(sess *console.Session, command, args string) {
		_, err := s.Record(context.Background(), Entry{
			Session: sess.ID(),
			Remote:  sess.RemoteAddr(),
			Command: command,
			Args:    args,
		})
		if err != nil {
			s.log.Warn("audit record failed",
				zap.String("session", sess.ID()),
				zap.String("command", command),
				zap.Error(err))
		}
	}
}

// Command returns the "history" console command.
func (s *Store) Command() *console.Command {
	return console.NewCommand("history", "Print recently run commands: history [count]", func(sess *console.Session, args string) {
		n := DefaultHistory
		if args = strings.TrimSpace(args); args != "" {
			v, err := strconv.Atoi(args)
			if err != nil || v <= 0 {
				sess.Printf("error: invalid count %q\n", args)
				return
			}
			n = v
		}

		entries, err := s.Recent(context.Background(), n)
		if err != nil {
			sess.Printf("error: %v\n", err)
			return
		}
		for _, e := range entries {
			sess.Printf("%s\n", e)
		}
	})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
