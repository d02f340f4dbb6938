package db

import (
	"fmt"

	"rentflow/internal/maintenance"
	"rentflow/internal/notify"
	"rentflow/internal/payment"
	"rentflow/internal/tasks"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(dsn string, debug bool) (*gorm.DB, error) {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(level)})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

// AutoMigrateAndIndexes creates the tables this service owns. Properties,
// providers, management records and contracts belong to the wider platform
// and are only read.
func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(
		&maintenance.Job{},
		&maintenance.Note{},
		&maintenance.VisitProposal{},
		&tasks.Task{},
		&payment.Payment{},
		&notify.Notification{},
	); err != nil {
		return err
	}

	stmts := []string{
		`create index if not exists idx_maintenance_jobs_property_status on maintenance_jobs(property_id, status);`,
		`create index if not exists idx_maintenance_notes_job on maintenance_notes(job_id, created_at, id);`,
		`create unique index if not exists uq_visit_open on maintenance_visit_proposals(job_id) where status = 'PROPOSED';`,
		`create index if not exists idx_tasks_due on tasks(status, run_at);`,
		`create index if not exists idx_tasks_lock on tasks(status, locked_at);`,
		`create index if not exists idx_tasks_ref_type on tasks(ref_id, type, status);`,
		`create index if not exists idx_payments_status_updated on payments(status, updated_at);`,
		`create index if not exists idx_notifications_user_created on notifications(user_id, created_at desc);`,
		`create index if not exists idx_notifications_unread on notifications(user_id) where is_read = false;`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}
