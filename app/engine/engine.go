// Package engine talks to the external clipping engine. The engine does all the video work (transcription,
// scene analysis, face tracking and rendering); this package only uploads files, asks for job status and
// lists the engine's library. Client makes single requests, Poller repeats status requests until a job
// reaches a terminal state.
package engine

import (
	"fmt"
	"net/http"

	"github.com/agenclip/agenclip/app/enums"
)

// Job is a read-only snapshot of an engine job
type Job struct {
	ID      string          `json:"id"`
	Status  enums.JobStatus `json:"status"`
	Results []ClipResult    `json:"results,omitempty"` // set for completed jobs only
	Error   string          `json:"error,omitempty"`   // set for failed jobs only
}

// ClipResult is a single rendered clip
type ClipResult struct {
	URL    string  `json:"url"`
	Title  string  `json:"title"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// VideoFile is a source video stored by the engine
type VideoFile struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	UploadDate string `json:"uploadDate"`
	Path       string `json:"path"`
}

// TransportError is returned when a request to the engine fails on the network level
// or the engine responds with a non-success status
type TransportError struct {
	Op     string // upload, status, reprocess or library
	URL    string
	Status int // http status code, 0 if no response was received
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("engine %s %s: unexpected status %d %s", e.Op, e.URL, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("engine %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// errTimedOut is the error text of the synthetic failed job reported when MaxWait is exceeded
const errTimedOut = "timed out waiting for engine"

// errNoResults is the error text for completed jobs without any clip
const errNoResults = "completed without results"
