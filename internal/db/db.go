package db

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"chat-engine/internal/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// MemoryDSN opens a private in-memory SQLite database. Times are stored in a
// lexically ordered text form so comparisons in SQL match time order.
const MemoryDSN = "file::memory:?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

func init() {
	// modernc registers as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Connect initializes the database connection and runs migrations.
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	return Open(cfg.Driver, cfg.DSN)
}

// Open connects with the given driver and applies that dialect's migrations.
func Open(driver, dsn string) (*sqlx.DB, error) {
	var migrations []string
	switch driver {
	case DriverPostgres:
		migrations = postgresMigrations
	case DriverSQLite:
		migrations = sqliteMigrations
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}

	db, err := sqlx.Connect(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite allows one writer; an in-memory database also only lives on its connection.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(db, migrations); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Printf("database ready driver=%s", driver)
	return db, nil
}

// OpenMemory returns a migrated in-memory SQLite database.
func OpenMemory() (*sqlx.DB, error) {
	return Open(DriverSQLite, MemoryDSN)
}

func runMigrations(db *sqlx.DB, migrations []string) error {
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

var postgresMigrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
            id SERIAL PRIMARY KEY,
            kind TEXT NOT NULL CHECK (kind IN ('DIRECT', 'GROUP')),
            direct_key TEXT UNIQUE,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS participants (
            conversation_id INT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            joined_at TIMESTAMPTZ NOT NULL,
            last_read_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (conversation_id, user_id)
        );`,
	`CREATE INDEX IF NOT EXISTS participants_user_idx ON participants (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id SERIAL PRIMARY KEY,
            conversation_id INT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id INT NOT NULL,
            content TEXT NOT NULL,
            kind TEXT NOT NULL,
            attachment_url TEXT,
            created_at TIMESTAMPTZ NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS messages_order_idx ON messages (conversation_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS groups (
            id SERIAL PRIMARY KEY,
            conversation_id INT NOT NULL UNIQUE REFERENCES conversations(id) ON DELETE CASCADE,
            name TEXT NOT NULL,
            description TEXT,
            image_url TEXT,
            category TEXT NOT NULL,
            created_by INT NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            updated_at TIMESTAMPTZ NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS read_receipts (
            message_id INT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INT NOT NULL,
            read_at TIMESTAMPTZ NOT NULL,
            PRIMARY KEY (message_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
            user_id INT PRIMARY KEY,
            name TEXT NOT NULL,
            image_url TEXT
        );`,
}

var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL CHECK (kind IN ('DIRECT', 'GROUP')),
            direct_key TEXT UNIQUE,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS participants (
            conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            user_id INTEGER NOT NULL,
            joined_at TIMESTAMP NOT NULL,
            last_read_at TIMESTAMP NOT NULL,
            PRIMARY KEY (conversation_id, user_id)
        );`,
	`CREATE INDEX IF NOT EXISTS participants_user_idx ON participants (user_id);`,
	`CREATE TABLE IF NOT EXISTS messages (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            conversation_id INTEGER NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
            sender_id INTEGER NOT NULL,
            content TEXT NOT NULL,
            kind TEXT NOT NULL,
            attachment_url TEXT,
            created_at TIMESTAMP NOT NULL
        );`,
	`CREATE INDEX IF NOT EXISTS messages_order_idx ON messages (conversation_id, created_at, id);`,
	`CREATE TABLE IF NOT EXISTS groups (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            conversation_id INTEGER NOT NULL UNIQUE REFERENCES conversations(id) ON DELETE CASCADE,
            name TEXT NOT NULL,
            description TEXT,
            image_url TEXT,
            category TEXT NOT NULL,
            created_by INTEGER NOT NULL,
            created_at TIMESTAMP NOT NULL,
            updated_at TIMESTAMP NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS read_receipts (
            message_id INTEGER NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
            user_id INTEGER NOT NULL,
            read_at TIMESTAMP NOT NULL,
            PRIMARY KEY (message_id, user_id)
        );`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
            user_id INTEGER PRIMARY KEY,
            name TEXT NOT NULL,
            image_url TEXT
        );`,
}
