package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Fields carries the structured voicemail fields. The JSON names match the
// schema the extraction model produces.
type Fields struct {
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

// Item describes a voicemail item in a transport-friendly format.
type Item struct {
	ID            string  `json:"id"`
	Sender        string  `json:"sender"`
	Subject       string  `json:"subject"`
	Phone         string  `json:"phone,omitempty"`
	ReceivedAt    string  `json:"receivedAt,omitempty"`
	Status        string  `json:"status"`
	FailureReason string  `json:"failureReason,omitempty"`
	ErrorMessage  string  `json:"errorMessage,omitempty"`
	Transcript    string  `json:"transcript,omitempty"`
	ModelUsed     string  `json:"modelUsed,omitempty"`
	Duration      float64 `json:"duration"`
	Fields        Fields  `json:"fields"`
	Rating        int     `json:"rating"`
	CreatedAt     string  `json:"createdAt,omitempty"`
	UpdatedAt     string  `json:"updatedAt,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	DBPath        string         `json:"dbPath"`
	LockFilePath  string         `json:"lockFilePath"`
	ItemStats     map[string]int `json:"itemStats"`
	ActiveItems   int            `json:"activeItems"`
	LastPollAt    string         `json:"lastPollAt,omitempty"`
	PrimaryModel  string         `json:"primaryModel"`
	FallbackModel string         `json:"fallbackModel"`
}

// ItemListResponse wraps a collection of items for API responses.
type ItemListResponse struct {
	Items []Item `json:"items"`
}

// ItemResponse wraps a single item.
type ItemResponse struct {
	Item Item `json:"item"`
}

// UpdateFieldRequest edits one reviewable field on an item.
type UpdateFieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// ModelsPayload carries the transcription model pair.
type ModelsPayload struct {
	PrimaryModel  string `json:"primaryModel"`
	FallbackModel string `json:"fallbackModel"`
}

// ErrorResponse is the uniform error body returned by the daemon.
type ErrorResponse struct {
	Error string `json:"error"`
}
