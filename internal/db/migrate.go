package db

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

//go:embed sql/pre_automigrate.sql
var preAutoMigrateSQL string

//go:embed sql/post_automigrate.sql
var postAutoMigrateSQL string

// migrationLockKey serializes migrations across processes sharing a database.
const migrationLockKey int64 = 0x6e657773

type migrationStep struct {
	name string
	run  func(tx *gorm.DB) error
}

// migrationSteps creates the newswire schema, lets gorm shape the tables, then
// adds the checks and indexes gorm tags cannot express.
func migrationSteps() []migrationStep {
	return []migrationStep{
		{name: "schema", run: execSQL(preAutoMigrateSQL)},
		{name: "tables", run: func(tx *gorm.DB) error {
			return tx.AutoMigrate(autoMigrateModels()...)
		}},
		{name: "constraints and indexes", run: execSQL(postAutoMigrateSQL)},
	}
}

func execSQL(sqlText string) func(tx *gorm.DB) error {
	trimmed := strings.TrimSpace(sqlText)
	return func(tx *gorm.DB) error {
		if trimmed == "" {
			return nil
		}
		return tx.Exec(trimmed).Error
	}
}

// Migrate brings the schema up to date in a single transaction. It is safe to
// run concurrently and repeatedly.
func (p *Pool) Migrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	if p.inTx {
		return fmt.Errorf("migrate inside a transaction")
	}

	return p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", migrationLockKey).Error; err != nil {
			return fmt.Errorf("acquire migration lock: %w", err)
		}
		for _, step := range migrationSteps() {
			if err := step.run(tx); err != nil {
				return fmt.Errorf("migrate %s: %w", step.name, err)
			}
		}
		return nil
	})
}
