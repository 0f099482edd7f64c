package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/mosacloud/drive/internal/logging"
	"github.com/mosacloud/drive/internal/provenance"
)

// Dialect adapts queries to a database driver.
type Dialect struct {
	Driver string
	// Positional placeholders: "$1" style when true, "?" otherwise.
	Numbered bool
}

var (
	Postgres = Dialect{Driver: "postgres", Numbered: true}
	SQLite   = Dialect{Driver: "sqlite"}
)

// rebind turns "?" placeholders into the dialect's form.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
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

// touchInterval bounds how often a read refreshes updated_at.
const touchInterval = time.Minute

// SQLRepository stores sessions in the navigation_sessions table.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// OpenSQL opens and pings a database for d.
func OpenSQL(d Dialect, dsn string) (*SQLRepository, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if d == SQLite {
		// One writer at a time.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return NewSQLRepository(db, d), nil
}

// NewSQLRepository wraps an open database.
func NewSQLRepository(db *sql.DB, d Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: d, now: time.Now}
}

// Migrate runs every *.up.sql file of fsys in name order.
func (s *SQLRepository) Migrate(ctx context.Context, fsys fs.FS) error {
	files, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("glob migrations: %w", err)
	}

	for _, f := range files {
		logging.Info("running migration", logging.String("file", path.Base(f)))
		content, err := fs.ReadFile(fsys, f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		for _, stmt := range splitStatements(string(content)) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec migration %s: %w", f, err)
			}
		}
	}
	return nil
}

// splitStatements splits a migration on ';'. Migrations here hold no
// procedural bodies, so a plain split is enough.
func splitStatements(content string) []string {
	var out []string
	for _, stmt := range strings.Split(content, ";") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// Get implements Repository.
func (s *SQLRepository) Get(ctx context.Context, id string) (State, bool, error) {
	var st State
	var route string
	err := s.db.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT from_route, manual_item_id, redirect_after_login
		 FROM navigation_sessions WHERE id = ?`), id,
	).Scan(&route, &st.Marks.ManualItemID, &st.RedirectAfterLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("get session: %w", err)
	}
	st.Marks.DefaultRoute = provenance.DefaultRoute(route)
	return st, true, nil
}

// Put implements Repository.
func (s *SQLRepository) Put(ctx context.Context, id string, st State) error {
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO navigation_sessions (id, from_route, manual_item_id, redirect_after_login, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   from_route = excluded.from_route,
		   manual_item_id = excluded.manual_item_id,
		   redirect_after_login = excluded.redirect_after_login,
		   updated_at = excluded.updated_at`),
		id, string(st.Marks.DefaultRoute), st.Marks.ManualItemID, st.RedirectAfterLogin, s.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

// Delete implements Repository.
func (s *SQLRepository) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM navigation_sessions WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ClearMarks implements Repository.
func (s *SQLRepository) ClearMarks(ctx context.Context, id string, expected provenance.Marks) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE navigation_sessions
		 SET from_route = '', manual_item_id = '', updated_at = ?
		 WHERE id = ? AND from_route = ? AND manual_item_id = ?`),
		s.now().Unix(), id, string(expected.DefaultRoute), expected.ManualItemID,
	)
	if err != nil {
		return false, fmt.Errorf("clear session marks: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("clear session marks: %w", err)
	}
	return n == 1, nil
}

// TakeRedirect implements Repository. The URL read is only handed out
// if this call is the one that cleared it.
func (s *SQLRepository) TakeRedirect(ctx context.Context, id string) (string, error) {
	st, ok, err := s.Get(ctx, id)
	if err != nil || !ok || st.RedirectAfterLogin == "" {
		return "", err
	}
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE navigation_sessions
		 SET redirect_after_login = '', updated_at = ?
		 WHERE id = ? AND redirect_after_login = ?`),
		s.now().Unix(), id, st.RedirectAfterLogin,
	)
	if err != nil {
		return "", fmt.Errorf("take redirect: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("take redirect: %w", err)
	}
	if n != 1 {
		return "", nil
	}
	return st.RedirectAfterLogin, nil
}

// Touch implements Repository. Rows refreshed within touchInterval are
// left alone.
func (s *SQLRepository) Touch(ctx context.Context, id string) error {
	now := s.now()
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`UPDATE navigation_sessions SET updated_at = ? WHERE id = ? AND updated_at < ?`),
		now.Unix(), id, now.Add(-touchInterval).Unix(),
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeleteIdle implements Repository.
func (s *SQLRepository) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`DELETE FROM navigation_sessions WHERE updated_at < ?`), before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Repository.
func (s *SQLRepository) Close() error {
	return s.db.Close()
}
