package updater

import "time"

// Outcome classifies how a run ended.
type Outcome string

const (
	// OutcomeUnchanged means the fingerprint matched the cached checksum.
	OutcomeUnchanged Outcome = "unchanged"
	// OutcomeNoNewRecords means the file changed but every record already existed.
	OutcomeNoNewRecords Outcome = "no_new_records"
	// OutcomeInserted means at least one new record was written.
	OutcomeInserted Outcome = "inserted"
	// OutcomeFailed is used by callers that record failed runs.
	OutcomeFailed Outcome = "failed"
)

// Messages returned in Result.Message.
const (
	MessageUnchanged    = "source file unchanged since last run"
	MessageNoNewRecords = "no new records to insert"
)

// Result is the outcome of one run.
type Result struct {
	Table            string    `json:"table"`
	RecordsProcessed int       `json:"recordsProcessed"`
	Message          string    `json:"message"`
	Timestamp        time.Time `json:"timestamp"`
	Checksum         string    `json:"checksum,omitempty"`

	Outcome Outcome `json:"-"`
}
