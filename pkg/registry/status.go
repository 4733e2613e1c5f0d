package registry

import (
	"fmt"

	"github.com/matzehuels/symgraph/pkg/errors"
)

// Status is the coarse processing state of a package.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusUnknown, StatusProcessing, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Processing steps reported while a package is being built.
const (
	StepResolving = "resolving"
	StepFetching  = "fetching"
	StepParsing   = "parsing"
	StepStoring   = "storing"
	StepIndexing  = "indexing"
	StepQueued    = "queued"
)

// Action is a remediation hint attached to failed records.
type Action string

const (
	ActionRetry     Action = "retry"
	ActionCheckName Action = "check-name"
	ActionNone      Action = "none"
)

// ActionFor derives the remediation hint for a pipeline error.
func ActionFor(err error) Action {
	switch errors.GetCode(err) {
	case errors.ErrCodePackageNotFound, errors.ErrCodeEcosystemNotFound,
		errors.ErrCodeInvalidKey, errors.ErrCodeInvalidPackage, errors.ErrCodeInvalidVersion:
		return ActionCheckName
	case errors.ErrCodeUnsupported:
		return ActionNone
	}
	return ActionRetry
}

// Record is the status of one package.
type Record struct {
	Status           Status `json:"status"`
	Step             string `json:"step,omitempty"`
	Error            string `json:"error,omitempty"`
	Action           Action `json:"action,omitempty"`
	InstalledVersion string `json:"installedVersion,omitempty"`
}

// Processing returns a processing record at step.
func Processing(step string) Record {
	return Record{Status: StatusProcessing, Step: step}
}

// Ready returns a ready record.
func Ready(version string) Record {
	return Record{Status: StatusReady, InstalledVersion: version}
}

// Failed returns a failed record describing err.
func Failed(err error) Record {
	return Record{Status: StatusFailed, Error: errors.UserMessage(err), Action: ActionFor(err)}
}

// Normalize drops fields that have no meaning for the record's status.
// Step is kept only while processing; Error and Action only when failed.
func (r Record) Normalize() Record {
	if r.Status == "" {
		r.Status = StatusUnknown
	}
	if r.Status != StatusProcessing {
		r.Step = ""
	}
	if r.Status != StatusFailed {
		r.Error = ""
		r.Action = ""
	}
	return r
}

func (r Record) validate() error {
	if !r.Status.Valid() {
		return errors.New(errors.ErrCodeInvalidInput, "invalid status %q", r.Status)
	}
	return nil
}

func (r Record) String() string {
	switch r.Status {
	case StatusProcessing:
		if r.Step != "" {
			return fmt.Sprintf("processing(%s)", r.Step)
		}
	case StatusFailed:
		return fmt.Sprintf("failed: %s", r.Error)
	}
	return string(r.Status)
}
