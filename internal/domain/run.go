package domain

import "time"

// RunStats holds counters for one pipeline run.
type RunStats struct {
	Sources  int
	Fetched  int
	Saved    int
	Skipped  int
	Failed   int
	Duration time.Duration
}

// ScoreRequest is the input to the scoring client.
type ScoreRequest struct {
	Title      string
	Body       string
	TagContext []TagPair
	Date       time.Time
}
