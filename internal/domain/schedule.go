package domain

import "time"

// ScheduledTask is a template for recurring execution. "Deleted" is a soft
// marker — deleted schedules are excluded from queries but retained.
type ScheduledTask struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Prompt              string     `json:"prompt"`
	StartURL            string     `json:"start_url,omitempty"`
	IntervalSeconds     int        `json:"interval_seconds"`
	CronExpr            string     `json:"cron_expr,omitempty"`
	Enabled             bool       `json:"enabled"`
	RunCount            int        `json:"run_count"`
	MaxRuns             int        `json:"max_runs,omitempty"` // 0 = unlimited
	NextRunAt           *time.Time `json:"next_run_at,omitempty"`
	LastRunAt           *time.Time `json:"last_run_at,omitempty"`
	ParallelWorkers     int        `json:"parallel_workers"`
	NotifyOnComplete    bool       `json:"notify_on_complete"`
	SelfLearning        bool       `json:"self_learning"`
	SelfLearningMaxRuns int        `json:"self_learning_max_runs,omitempty"` // 0 = unlimited
	SelfLearningRuns    int        `json:"self_learning_run_count"`
	SelfHealing         *bool      `json:"self_healing,omitempty"` // nil = inherit system default
	Deleted             bool       `json:"deleted"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Fanout returns the number of parallel task instances one execution spawns.
func (s *ScheduledTask) Fanout() int {
	if s.ParallelWorkers < 1 {
		return 1
	}
	return s.ParallelWorkers
}

// LearningExhausted reports whether the optimizer budget is spent.
// A zero SelfLearningMaxRuns means unlimited.
func (s *ScheduledTask) LearningExhausted() bool {
	return s.SelfLearningMaxRuns > 0 && s.SelfLearningRuns >= s.SelfLearningMaxRuns
}
