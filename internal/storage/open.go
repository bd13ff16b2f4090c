package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	logx "changewatch/pkg/logx"
)

// ParseURL splits a DATABASE_URL into dialect and driver DSN.
func ParseURL(raw string) (dialect, dsn string, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return "", "", errors.New("database url is required")
	case strings.HasPrefix(raw, "sqlite://"):
		return dialectSQLite, strings.TrimPrefix(raw, "sqlite://"), nil
	case strings.HasPrefix(raw, "sqlite3://"):
		return dialectSQLite, strings.TrimPrefix(raw, "sqlite3://"), nil
	case strings.HasPrefix(raw, "mysql://"):
		return dialectMySQL, strings.TrimPrefix(raw, "mysql://"), nil
	case strings.Contains(raw, "://"):
		return "", "", fmt.Errorf("unsupported database url scheme in %q", raw)
	default:
		return dialectSQLite, raw, nil
	}
}

// Open connects to the configured database and applies pending migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	dialect, dsn, err := ParseURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	var db *sql.DB
	switch dialect {
	case dialectSQLite:
		db, dsn, err = openSQLite(dsn, cfg)
	case dialectMySQL:
		db, dsn, err = openMySQL(dsn, cfg)
	}
	if err != nil {
		return nil, err
	}
	if err := runMigrations(dialect, dsn, log); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info("storage ready", logx.String("dialect", dialect))
	return newSQLStore(db, dialect, log), nil
}

func openSQLite(path string, cfg Config) (*sql.DB, string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, "", errors.New("sqlite path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, "", err
		}
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "foreign_keys(1)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return db, dsn, nil
}

func openMySQL(dsn string, cfg Config) (*sql.DB, string, error) {
	mc, err := gomysql.ParseDSN(dsn)
	if err != nil {
		return nil, "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	// Migration files hold several statements each.
	mc.MultiStatements = true
	dsn = mc.FormatDSN()

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, "", err
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = 10
	}
	db.SetMaxOpenConns(conns)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, "", fmt.Errorf("open mysql %s/%s: %w", mc.Addr, mc.DBName, err)
	}
	return db, dsn, nil
}
