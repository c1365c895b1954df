package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options tunes how a connection is opened.
type Options struct {
	// TimeZone is the IANA zone used for session timestamps. Empty means the host zone.
	TimeZone string
	// Logger receives GORM warnings and slow query reports. Nil uses the logrus standard logger.
	Logger log.FieldLogger
	// LogLevel is one of silent, error, warn, info. Empty means warn.
	LogLevel string
}

// tzConfig holds timezone configuration for database connections.
type tzConfig struct {
	dbTimeZone   string
	scanLocation *time.Location
}

// Open opens a GORM connection based on the provided DSN.
func Open(dsn string, opts Options) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	dialect, err := detectDialectFromDSN(trimmed)
	if err != nil {
		return nil, err
	}
	gormCfg := &gorm.Config{
		Logger:         newGormLogger(opts),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
	switch dialect {
	case DialectPostgres:
		tz, errTZ := resolveTimeZone(opts.TimeZone)
		if errTZ != nil {
			return nil, errTZ
		}
		return openPostgres(trimmed, tz, gormCfg)
	case DialectSQLite:
		return openSQLite(trimmed, gormCfg)
	default:
		return nil, fmt.Errorf("db: unsupported dialect: %s", dialect)
	}
}

// newGormLogger routes GORM output through logrus.
func newGormLogger(opts Options) logger.Interface {
	var sink log.FieldLogger = opts.Logger
	if sink == nil {
		sink = log.StandardLogger()
	}
	level := logger.Warn
	switch strings.ToLower(strings.TrimSpace(opts.LogLevel)) {
	case "silent":
		level = logger.Silent
	case "error":
		level = logger.Error
	case "info":
		level = logger.Info
	}
	return logger.New(sink.WithField("component", "gorm"), logger.Config{
		SlowThreshold:             500 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	})
}

// detectDialectFromDSN infers the dialect from a DSN string.
func detectDialectFromDSN(dsn string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://"):
		return DialectPostgres, nil
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "sslmode="):
		return DialectPostgres, nil
	case strings.HasPrefix(lower, "file:"),
		strings.HasPrefix(lower, "sqlite://"),
		strings.HasPrefix(lower, "sqlite3://"),
		!strings.Contains(lower, "://"):
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("db: unsupported dsn: %s", dsn)
	}
}

// openPostgres opens a PostgreSQL connection pinned to the configured timezone.
func openPostgres(dsn string, tz tzConfig, gormCfg *gorm.Config) (*gorm.DB, error) {
	sqlDB, err := openPostgresSQLDB(dsn, tz)
	if err != nil {
		return nil, err
	}

	conn, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormCfg)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("db: open: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if errPing := ping(sqlDB); errPing != nil {
		_ = sqlDB.Close()
		return nil, errPing
	}
	return conn, nil
}

// openSQLite opens a SQLite connection with defaults and pragmas applied.
// The pool holds a single connection so writers queue in-process instead of
// failing with SQLITE_BUSY.
func openSQLite(dsn string, gormCfg *gorm.Config) (*gorm.DB, error) {
	normalized := normalizeSQLiteDSN(dsn)
	if errEnsure := ensureSQLiteDir(normalized); errEnsure != nil {
		return nil, errEnsure
	}

	conn, err := gorm.Open(sqlite.Open(normalized), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite sql: %w", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if errPragma := applySQLitePragmas(sqlDB); errPragma != nil {
		_ = sqlDB.Close()
		return nil, errPragma
	}
	if errPing := ping(sqlDB); errPing != nil {
		_ = sqlDB.Close()
		return nil, errPing
	}
	return conn, nil
}

func ping(sqlDB *sql.DB) error {
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errPing := sqlDB.PingContext(pingCtx); errPing != nil {
		return fmt.Errorf("db: ping: %w", errPing)
	}
	return nil
}

// Close releases the underlying pool.
func Close(conn *gorm.DB) error {
	if conn == nil {
		return nil
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// openPostgresSQLDB opens a sql.DB with timezone-aware type mapping.
func openPostgresSQLDB(dsn string, tz tzConfig) (*sql.DB, error) {
	cfg, errParse := pgx.ParseConfig(dsn)
	if errParse != nil {
		return nil, fmt.Errorf("db: parse dsn: %w", errParse)
	}

	var options []stdlib.OptionOpenDB
	if tz.dbTimeZone != "" {
		cfg.RuntimeParams["timezone"] = tz.dbTimeZone
	}
	if loc := tz.scanLocation; loc != nil {
		options = append(options, stdlib.OptionAfterConnect(func(ctx context.Context, conn *pgx.Conn) error {
			conn.TypeMap().RegisterType(&pgtype.Type{
				Name:  "timestamp",
				OID:   pgtype.TimestampOID,
				Codec: &pgtype.TimestampCodec{ScanLocation: loc},
			})
			conn.TypeMap().RegisterType(&pgtype.Type{
				Name:  "timestamptz",
				OID:   pgtype.TimestamptzOID,
				Codec: &pgtype.TimestamptzCodec{ScanLocation: loc},
			})
			return nil
		}))
	}

	return stdlib.OpenDB(*cfg, options...), nil
}

// normalizeSQLiteDSN converts sqlite URLs into file-based DSNs.
func normalizeSQLiteDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "sqlite3://") || strings.HasPrefix(lower, "sqlite://") {
		parts := strings.SplitN(trimmed, "://", 2)
		if len(parts) == 2 {
			return "file:" + parts[1]
		}
	}
	return trimmed
}

// sqlitePathFromDSN extracts the file path from a SQLite DSN.
func sqlitePathFromDSN(dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" || trimmed == ":memory:" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "file:") {
		pathPart := trimmed[len("file:"):]
		if idx := strings.Index(pathPart, "?"); idx >= 0 {
			pathPart = pathPart[:idx]
		}
		pathPart = strings.TrimPrefix(pathPart, "//")
		if pathPart == ":memory:" {
			return ""
		}
		return pathPart
	}
	if idx := strings.Index(trimmed, "?"); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// ensureSQLiteDir creates the parent directory for a SQLite database file.
func ensureSQLiteDir(dsn string) error {
	path := sqlitePathFromDSN(dsn)
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if errMkdir := os.MkdirAll(dir, 0o755); errMkdir != nil {
		return fmt.Errorf("db: create sqlite dir: %w", errMkdir)
	}
	return nil
}

// applySQLitePragmas applies the pragmas the ledger relies on.
func applySQLitePragmas(sqlDB *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return fmt.Errorf("db: sqlite pragma %s: %w", pragma, err)
		}
	}
	return nil
}

// resolveTimeZone returns the session timezone, falling back to the host zone.
func resolveTimeZone(name string) (tzConfig, error) {
	name = strings.TrimSpace(name)
	if name != "" {
		loc, errLoad := time.LoadLocation(name)
		if errLoad != nil {
			return tzConfig{}, fmt.Errorf("db: load timezone %q: %w", name, errLoad)
		}
		return tzConfig{dbTimeZone: name, scanLocation: loc}, nil
	}
	if host := time.Local.String(); host != "" && host != "Local" {
		return tzConfig{dbTimeZone: host, scanLocation: time.Local}, nil
	}
	_, offsetSeconds := time.Now().Zone()
	offsetName := formatUTCOffset(offsetSeconds)
	return tzConfig{dbTimeZone: offsetName, scanLocation: time.FixedZone(offsetName, offsetSeconds)}, nil
}

// formatUTCOffset formats a numeric offset into "+HH:MM" or "-HH:MM".
func formatUTCOffset(offsetSeconds int) string {
	sign := "+"
	if offsetSeconds < 0 {
		sign = "-"
		offsetSeconds = -offsetSeconds
	}
	return fmt.Sprintf("%s%02d:%02d", sign, offsetSeconds/3600, (offsetSeconds%3600)/60)
}
