package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tj/assert"
)

// Functional Validation Tests - Config

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config == nil {
		t.Fatal("DefaultConfig should not return nil")
	}

	if config.Driver != DriverSQLite {
		t.Errorf("Expected Driver %q, got %q", DriverSQLite, config.Driver)
	}
	if config.DatabasePath != "./data/buddyhub.db" {
		t.Errorf("Expected DatabasePath './data/buddyhub.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime != time.Minute*10 {
		t.Errorf("Expected ConnMaxIdleTime 10 minutes, got %v", config.ConnMaxIdleTime)
	}
	if config.RetryDelay != time.Second {
		t.Errorf("Expected RetryDelay 1s, got %v", config.RetryDelay)
	}
}

func TestConfig_Validation(t *testing.T) {
	valid := func(mut func(c *Config)) *Config {
		c := DefaultConfig()
		mut(c)
		return c
	}

	tests := []struct {
		name    string
		config  *Config
		wantErr bool
	}{
		{"valid config", DefaultConfig(), false},
		{"empty database path", valid(func(c *Config) { c.DatabasePath = "" }), true},
		{"zero max connections", valid(func(c *Config) { c.MaxConnections = 0 }), true},
		{"unknown driver", valid(func(c *Config) { c.Driver = "mysql" }), true},
		{"postgres without dsn", valid(func(c *Config) { c.Driver = DriverPostgres }), true},
		{"postgres with dsn", valid(func(c *Config) {
			c.Driver = DriverPostgres
			c.DSN = "postgres://hub@localhost/buddyhub?sslmode=disable"
		}), false},
		{"negative retry delay", valid(func(c *Config) { c.RetryDelay = -time.Second }), true},
		{"zero write timeout", valid(func(c *Config) { c.WriteTimeout = 0 }), true},
		{"zero retry delay", valid(func(c *Config) { c.RetryDelay = 0 }), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DataSourceName(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, "./data/buddyhub.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", c.DataSourceName())

	c.Driver = DriverPostgres
	c.DSN = "postgres://localhost/hub"
	assert.Equal(t, "postgres://localhost/hub", c.DataSourceName())
}

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT id FROM messages WHERE sender_id = ? AND receiver_id = ? LIMIT ?"
	assert.Equal(t, q, DialectFor(DriverSQLite).Rebind(q))
	assert.Equal(t,
		"SELECT id FROM messages WHERE sender_id = $1 AND receiver_id = $2 LIMIT $3",
		DialectFor(DriverPostgres).Rebind(q))
}

// Functional Validation Tests - Migration System

func openTestSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrationManager_LoadsEmbeddedMigrations(t *testing.T) {
	for _, driver := range []string{DriverSQLite, DriverPostgres} {
		t.Run(driver, func(t *testing.T) {
			mgr := NewMigrationManager(nil, driver)
			migrations, err := mgr.loadMigrations()
			assert.NoError(t, err)
			assert.True(t, len(migrations) >= 1)
			assert.Equal(t, "001", migrations[0].Version)
			assert.Equal(t, "chat_schema", migrations[0].Description)
			assert.Contains(t, migrations[0].SQL, "group_messages")
		})
	}
}

func TestMigrationManager_ApplyMigrations(t *testing.T) {
	db := openTestSQLite(t)
	mgr := NewMigrationManager(db, DriverSQLite)

	if err := mgr.ValidateSchema(); err == nil {
		t.Error("ValidateSchema should fail on empty database")
	}

	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations should not fail: %v", err)
	}
	if err := mgr.ValidateSchema(); err != nil {
		t.Errorf("ValidateSchema should pass after migrations: %v", err)
	}

	// Applying twice is a no-op
	if err := mgr.ApplyMigrations(); err != nil {
		t.Errorf("second ApplyMigrations should not fail: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("Failed to count migrations: %v", err)
	}
	assert.Equal(t, 1, count)
}

func TestMigrationManager_PostgresUsesNativePlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}))
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS messages").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`INSERT INTO schema_migrations \(version\) VALUES \(\$1\)`).
		WithArgs("001").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	mgr := NewMigrationManager(db, DriverPostgres)
	assert.NoError(t, mgr.ApplyMigrations())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrationManager_PostgresSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM schema_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow("001"))

	mgr := NewMigrationManager(db, DriverPostgres)
	assert.NoError(t, mgr.ApplyMigrations())
	assert.NoError(t, mock.ExpectationsWereMet())
}
