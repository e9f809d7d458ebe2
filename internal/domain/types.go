package domain

// JobState tracks the lifecycle of one background analysis job.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether a state is an end state for a job.
func (s JobState) Terminal() bool {
	return s == JobStateSucceeded || s == JobStateFailed
}

// Settings contains user-selectable runtime configuration.
type Settings struct {
	WorkingDir string   `json:"workingDir"`
	OutputDir  string   `json:"outputDir"`
	Convention string   `json:"convention"`
	Palette    []string `json:"palette"`
}
