package analytics

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// timeLayout is fixed width so that stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// goose keeps its filesystem and dialect in package state.
var migrateMu sync.Mutex

// Store provides database operations for page views and the post index.
type Store struct {
	db  *sql.DB
	log *zap.Logger
	now func() time.Time
	loc *time.Location
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for migrations and background work.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLocation sets the location whose calendar day counts as "today"
// (default time.Local).
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		s.loc = loc
	}
}

// NewStore opens (or creates) the analytics database at dbPath and applies
// pending migrations.
func NewStore(dbPath string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create analytics dir: %w", err)
	}

	db, err := sql.Open("sqlite", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		db:  db,
		log: zap.NewNop(),
		now: time.Now,
		loc: time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// dsn enables WAL and a busy timeout on every pooled connection. Write
// transactions take the lock up front so concurrent upserts wait instead of
// failing on lock upgrade.
func dsn(path string) string {
	return "file:" + path +
		"?_pragma=busy_timeout(5000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_txlock=immediate"
}

func (s *Store) migrate() error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{s.log.Sugar().Named("migrate")})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// gooseLogger routes migration output through zap.
type gooseLogger struct {
	log *zap.SugaredLogger
}

func (l gooseLogger) Printf(format string, v ...any) { l.log.Infof(format, v...) }
func (l gooseLogger) Fatalf(format string, v ...any) { l.log.Fatalf(format, v...) }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// PageView is one recorded page request.
type PageView struct {
	PageName  string
	VisitorIP string
	UserAgent string
	SessionID string
	Timestamp time.Time
}

// Record appends v. A zero Timestamp is replaced with the store clock.
func (s *Store) Record(ctx context.Context, v PageView) error {
	if v.Timestamp.IsZero() {
		v.Timestamp = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO page_views (page_name, visitor_ip, user_agent, timestamp, session_id) VALUES (?, ?, ?, ?, ?)`,
		v.PageName, nullable(v.VisitorIP), nullable(v.UserAgent), formatTime(v.Timestamp), nullable(v.SessionID),
	)
	if err != nil {
		return fmt.Errorf("insert page view: %w", err)
	}
	return nil
}

// RecordView appends a view of pageName stamped with the current time.
func (s *Store) RecordView(ctx context.Context, pageName, visitorIP, userAgent, sessionID string) error {
	return s.Record(ctx, PageView{
		PageName:  pageName,
		VisitorIP: visitorIP,
		UserAgent: userAgent,
		SessionID: sessionID,
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
