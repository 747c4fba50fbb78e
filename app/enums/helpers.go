package enums

// progress shown before the first status snapshot arrives
const (
	ProgressSubmitted = 5  // request sent to the engine
	ProgressAccepted  = 20 // engine returned a job id
)

// progress estimate per status, cosmetic only
var jobProgress = map[JobStatus]int{
	JobStatusQueued:       5,
	JobStatusTranscribing: 35,
	JobStatusAnalyzing:    60,
	JobStatusRendering:    85,
	JobStatusCompleted:    100,
}

// IsTerminal reports whether no more transitions can follow
func (e JobStatus) IsTerminal() bool {
	return e == JobStatusCompleted || e == JobStatusFailed
}

// Progress returns the estimated completion percentage, 0 for statuses without an estimate
func (e JobStatus) Progress() int {
	return jobProgress[e]
}

// Phase returns the human label for the processing screen at the given progress
func Phase(progress int) string {
	switch {
	case progress < 40:
		return "Transcribing"
	case progress < 70:
		return "AI Analyzing"
	default:
		return "Face Tracking & Rendering"
	}
}

// Toggle returns the opposite theme
func (e Theme) Toggle() Theme {
	if e == ThemeLight {
		return ThemeDark
	}
	return ThemeLight
}
