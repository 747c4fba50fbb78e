// Package enums provides type-safe enumeration types shared by the engine client, the session store
// and the web interface.
//
// This package uses code generation via go-pkgz/enum to create enum types with string conversion,
// database marshaling and parsing.
//
// Code Generation:
//
// The enum types are defined as unexported integer types (e.g., jobStatus int) in this file,
// and the go:generate directives invoke the enum generator to create corresponding exported
// types with all necessary methods in separate files (*_enum.go).
//
// For each enum type, the generator creates:
//   - An exported struct type (e.g., JobStatus) with name and value fields
//   - String() method for string representation
//   - Parse functions (e.g., ParseJobStatus) for string-to-enum conversion
//   - Database methods (Scan/Value) for SQL compatibility
//   - JSON marshaling methods (MarshalText/UnmarshalText)
//   - Exported constants for each enum value (e.g., JobStatusQueued, JobStatusAnalyzing)
//
// Domain helpers (progress estimates, terminal check, theme toggle) live in helpers.go.
//
// Usage:
//
//	status := enums.JobStatusAnalyzing
//	fmt.Println(status.String()) // "analyzing"
//
//	parsed, err := enums.ParseJobStatus("rendering")
//	if err != nil {
//	    // handle invalid input
//	}
//
// To regenerate the enum types after modifications:
//
//	go generate ./app/enums
//
// Note: The unexported type definitions below are only used by the generator.
// All actual code should use the generated exported types.
package enums

//go:generate go run github.com/go-pkgz/enum@latest -type jobStatus -lower
//go:generate go run github.com/go-pkgz/enum@latest -type theme -lower
//go:generate go run github.com/go-pkgz/enum@latest -type screen -lower
//go:generate go run github.com/go-pkgz/enum@latest -type tab -lower

// jobStatus represents a state of the engine job as reported by the status endpoint.
// The first value is what the engine reports for statuses not known here.
type jobStatus int

const (
	jobStatusUnknown jobStatus = iota
	jobStatusQueued
	jobStatusTranscribing
	jobStatusAnalyzing
	jobStatusRendering
	jobStatusCompleted
	jobStatusFailed
)

// theme represents UI themes, dark is the default
type theme int

const (
	themeDark theme = iota
	themeLight
)

// screen is the dashboard screen for the current run
type screen int

const (
	screenIdle screen = iota
	screenProcessing
	screenCompleted
	screenFailed
)

// tab is the dashboard tab shown on the idle screen
type tab int

const (
	tabUpload tab = iota
	tabLibrary
)
