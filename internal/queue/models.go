package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an item moving through the pipeline.
type Status string

const (
	StatusReceived     Status = "received"
	StatusTranscribing Status = "transcribing"
	StatusExtracting   Status = "extracting"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

var allStatuses = []Status{
	StatusReceived,
	StatusTranscribing,
	StatusExtracting,
	StatusDone,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusTranscribing: {},
	StatusExtracting:   {},
}

// FailureReason records which step failed when an item ends in StatusFailed.
type FailureReason string

const (
	ReasonTranscriptionFailed FailureReason = "transcription_failed"
	ReasonExtractionFailed    FailureReason = "extraction_failed"
	ReasonInternalError       FailureReason = "internal_error"
)

// ExtractedFields is the fixed set of structured fields the extraction step
// produces from a transcript. The JSON tags match the schema the language
// model is prompted to emit.
type ExtractedFields struct {
	FirstName      string `json:"vorname"`
	LastName       string `json:"nachname"`
	RequestType    string `json:"anfragetyp"`
	Medication     string `json:"nameMedikament"`
	Dosage         string `json:"dosis"`
	Specialty      string `json:"fachrichtung"`
	ReferralReason string `json:"grundUeberweisung"`
	Note           string `json:"extraInformation"`
	Birthdate      string `json:"geburtsdatum"`
}

// Item represents one inbound voicemail persisted in SQLite.
type Item struct {
	ID            string
	Sender        string
	Subject       string
	Phone         string
	ReceivedAt    time.Time
	Status        Status
	FailureReason FailureReason
	ErrorMessage  string
	AudioPath     string
	Transcript    string
	ModelUsed     string
	Duration      float64
	Fields        ExtractedFields
	Rating        int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HealthSummary describes aggregated item counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Received   int
	Processing int
	Done       int
	Failed     int
}

// DatabaseHealth captures diagnostic information about the item database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalItems       int
	Error            string
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight attempt.
func (i Item) IsProcessing() bool {
	_, ok := processingStatuses[i.Status]
	return ok
}

// IsTerminal returns true when the item has reached done or failed.
func (i Item) IsTerminal() bool {
	return i.Status == StatusDone || i.Status == StatusFailed
}

// SetFailed marks the item as failed with the given reason and message.
func (i *Item) SetFailed(reason FailureReason, message string) {
	i.Status = StatusFailed
	i.FailureReason = reason
	i.ErrorMessage = message
}

// SetDone marks the item as done with the extracted field set. Rating is
// reset so a reprocessed item starts unreviewed again.
func (i *Item) SetDone(fields ExtractedFields) {
	i.Status = StatusDone
	i.FailureReason = ""
	i.ErrorMessage = ""
	i.Fields = fields
	i.Rating = 0
}

// ResetForReprocess returns the item to the received state, clearing the
// previous attempt's output so a fresh attempt starts from scratch.
func (i *Item) ResetForReprocess() {
	i.Status = StatusReceived
	i.FailureReason = ""
	i.ErrorMessage = ""
	i.Transcript = ""
	i.ModelUsed = ""
	i.Duration = 0
	i.Fields = ExtractedFields{}
}
