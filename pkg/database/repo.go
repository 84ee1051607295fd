package database

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// AddCrash inserts one crash record.
func AddCrash(ctx context.Context, db *gorm.DB, crash *Crash) error {
	if crash == nil {
		return nil
	}
	return db.WithContext(ctx).Create(crash).Error
}

// NewCrash creates a new Crash row with the provided parameters.
func NewCrash(targetName, project, sanitizer string, binaryIndex int, reproducerPath string) *Crash {
	return &Crash{
		CreatedAt:      time.Now(),
		TargetName:     targetName,
		Project:        project,
		Sanitizer:      sanitizer,
		BinaryIndex:    binaryIndex,
		ReproducerPath: reproducerPath,
	}
}

// AddRunRecord inserts one run outcome record.
func AddRunRecord(ctx context.Context, db *gorm.DB, record *RunRecord) error {
	if record == nil {
		return nil
	}
	return db.WithContext(ctx).Create(record).Error
}

// NewRunRecord creates a new RunRecord row with the provided parameters.
func NewRunRecord(
	targetName string,
	project string,
	sanitizer string,
	binaryIndex int,
	exitCode int,
	elapsedMs int64,
	crashDetected bool,
	timedOut bool,
	status string,
) *RunRecord {
	return &RunRecord{
		CreatedAt:     time.Now(),
		TargetName:    targetName,
		Project:       project,
		Sanitizer:     sanitizer,
		BinaryIndex:   binaryIndex,
		ExitCode:      exitCode,
		ElapsedMs:     elapsedMs,
		CrashDetected: crashDetected,
		TimedOut:      timedOut,
		Status:        status,
	}
}
