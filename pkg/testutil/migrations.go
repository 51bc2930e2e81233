package testutil

import (
	"database/sql"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/stretchr/testify/require"
)

// RunMigrations applies the schema migrations to a test database
func RunMigrations(t *testing.T, db *TestDB, migrationsPath string) {
	t.Helper()

	connStr := db.Pool.Config().ConnString()
	sqlDB, err := sql.Open("pgx", connStr)
	require.NoError(t, err, "Failed to open sql.DB connection")

	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{})
	require.NoError(t, err, "Failed to create postgres driver")

	m, err := migrate.NewWithDatabaseInstance(
		"file://"+migrationsPath,
		"postgres",
		driver,
	)
	require.NoError(t, err, "Failed to create migrate instance")

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		require.NoError(t, err, "Failed to run migrations")
	}

	t.Cleanup(func() {
		m.Close()
		sqlDB.Close()
	})
}
