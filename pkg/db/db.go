package db

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/pressly/goose/v3"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"pipemock/pkg/db/migrations"
)

const (
	// DefaultTimeout is used when executing queries to avoid leaking resources on hung calls.
	DefaultTimeout = 5 * time.Second

	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Target is a parsed DATABASE_URL.
type Target struct {
	Dialect string
	DSN     string
}

// ParseURL maps a database URL onto a driver and DSN. Accepted forms are
// postgres://..., postgresql://..., sqlite:///relative/path,
// sqlite:////absolute/path and sqlite://:memory: (or a bare sqlite://).
func ParseURL(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return Target{}, errors.New("database url is required")
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return Target{Dialect: DialectPostgres, DSN: raw}, nil
	case strings.HasPrefix(raw, "sqlite://"):
		path := strings.TrimPrefix(raw, "sqlite://")
		if path == "" || path == "/:memory:" || path == ":memory:" {
			return Target{Dialect: DialectSQLite, DSN: "file::memory:"}, nil
		}
		// sqlite:///x is relative, sqlite:////x is absolute.
		path = strings.TrimPrefix(path, "/")
		return Target{Dialect: DialectSQLite, DSN: sqliteDSN(path)}, nil
	default:
		return Target{}, errors.Newf("unsupported database url %q", raw)
	}
}

func sqliteDSN(path string) string {
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_busy_timeout=5000",
		"_txlock=immediate",
	}
	return "file:" + path + "?" + strings.Join(opts, "&")
}

// Open connects a gorm session for the given database URL.
func Open(ctx context.Context, rawURL string) (*gorm.DB, error) {
	target, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}

	var dialector gorm.Dialector
	switch target.Dialect {
	case DialectPostgres:
		dialector = postgres.New(postgres.Config{DSN: target.DSN, PreferSimpleProtocol: true})
	default:
		dialector = sqlite.Open(target.DSN)
	}

	database, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{SingularTable: false},
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	sqlDB, err := database.DB()
	if err != nil {
		return nil, err
	}
	if target.Dialect == DialectSQLite {
		// Every sqlite in-memory connection is a separate database, and a
		// single writer avoids lock contention on files.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
	}

	if err := Ping(ctx, database); err != nil {
		_ = Close(database)
		return nil, errors.Wrap(err, "ping database")
	}

	return database, nil
}

// Migrate runs the embedded Go migrations against database.
func Migrate(ctx context.Context, database *gorm.DB) error {
	if database == nil {
		return errors.New("nil database provided")
	}

	sqlDB, err := database.DB()
	if err != nil {
		return err
	}

	dialect := goose.DialectSQLite3
	if database.Dialector.Name() == DialectPostgres {
		dialect = goose.DialectPostgres
	}

	provider, err := goose.NewProvider(dialect, sqlDB, nil,
		goose.WithGoMigrations(migrations.All(database.Dialector.Name())...),
	)
	if err != nil {
		return errors.Wrap(err, "create migration provider")
	}

	if _, err := provider.Up(ctx); err != nil {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// Ping ensures the database is reachable with the default timeout.
func Ping(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

// Close releases the underlying sql.DB resources for the provided gorm handle.
func Close(database *gorm.DB) error {
	if database == nil {
		return nil
	}
	sqlDB, err := database.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
