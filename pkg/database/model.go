package database

import "time"

// Crash is one captured reproducer.
type Crash struct {
	ID             int       `gorm:"primaryKey;column:id"`
	CreatedAt      time.Time `gorm:"column:created_at;default:now()"`
	TargetName     string    `gorm:"column:target_name;not null"`
	Project        string    `gorm:"column:project;not null"`
	Sanitizer      string    `gorm:"column:sanitizer;not null"`
	BinaryIndex    int       `gorm:"column:binary_index"`
	ReproducerPath string    `gorm:"column:reproducer_path;not null"`
}

// RunRecord is the terminal outcome of one run job.
type RunRecord struct {
	ID            int       `gorm:"primaryKey;column:id"`
	CreatedAt     time.Time `gorm:"column:created_at;default:now()"`
	TargetName    string    `gorm:"column:target_name;not null"`
	Project       string    `gorm:"column:project;not null"`
	Sanitizer     string    `gorm:"column:sanitizer;not null"`
	BinaryIndex   int       `gorm:"column:binary_index"`
	ExitCode      int       `gorm:"column:exit_code"`
	ElapsedMs     int64     `gorm:"column:elapsed_ms"`
	CrashDetected bool      `gorm:"column:crash_detected"`
	TimedOut      bool      `gorm:"column:timed_out"`
	Status        string    `gorm:"column:status;not null"`
}
