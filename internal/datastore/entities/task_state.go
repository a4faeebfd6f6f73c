package entities

import "time"

// TaskStatus mirrors the status of a task in the place/task service.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskInactive  TaskStatus = "inactive"
	TaskCompleted TaskStatus = "completed"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	return s == TaskActive || s == TaskInactive || s == TaskCompleted
}

// TaskState is the local mirror of a task. LockSeq is bumped as the first
// write of a transaction to serialize decisions for the task.
type TaskState struct {
	TaskID    string     `gorm:"primaryKey;size:64"`
	UserID    string     `gorm:"size:64;not null;index"`
	Title     string     `gorm:"size:255"`
	PlaceName string     `gorm:"size:255"`
	Status    TaskStatus `gorm:"size:16;not null"`
	LockSeq   int64      `gorm:"not null;default:0"`
	UpdatedAt time.Time  `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (TaskState) TableName() string {
	return "task_states"
}
