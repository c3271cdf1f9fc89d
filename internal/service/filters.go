package service

import "time"

// LogFilter supports run-log filtering by time range and type.
type LogFilter struct {
	From time.Time // inclusive; zero means no lower bound
	To   time.Time // inclusive; zero means no upper bound
	Type string    // "", "RUN_START", "RUN_FINISH", "WARNING", "ERROR", ...
}

// SampleFilter supports measurement-history filtering by run and time range.
type SampleFilter struct {
	RunID string
	From  time.Time // inclusive; zero means no lower bound
	To    time.Time // inclusive; zero means no upper bound
}
