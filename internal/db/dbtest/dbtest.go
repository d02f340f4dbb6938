// Package dbtest opens the Postgres database used by integration tests.
package dbtest

import (
	"os"
	"testing"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open connects to TEST_DATABASE_URL and migrates models, skipping the test
// when the variable is unset or the server is unreachable. With
// TEST_DATABASE_REQUIRED set, as in CI, the test fails instead of skipping.
// Tables are truncated before and after the test.
func Open(t testing.TB, models ...any) *gorm.DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		unavailable(t, "TEST_DATABASE_URL not set")
	}

	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		unavailable(t, "Postgres not available: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil || sqlDB.Ping() != nil {
		unavailable(t, "Postgres not reachable")
	}

	if err := gdb.AutoMigrate(models...); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	truncate := func() {
		for _, m := range models {
			stmt := &gorm.Statement{DB: gdb}
			if err := stmt.Parse(m); err != nil {
				t.Fatalf("parse model: %v", err)
			}
			gdb.Exec("TRUNCATE TABLE " + stmt.Schema.Table + " RESTART IDENTITY CASCADE")
		}
	}
	truncate()
	t.Cleanup(func() {
		truncate()
		_ = sqlDB.Close()
	})
	return gdb
}

func unavailable(t testing.TB, format string, args ...any) {
	t.Helper()
	if os.Getenv("TEST_DATABASE_REQUIRED") != "" {
		t.Fatalf(format, args...)
	}
	t.Skipf(format+", skipping integration test", args...)
}
