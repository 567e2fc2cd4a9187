package immunization

import "time"

// ItemError identifies one failed item of a batch pass.
type ItemError struct {
	ChildID   string `json:"child_id,omitempty"`
	VaccineID string `json:"vaccine_id,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
	Err       string `json:"err"`
}

// Report summarizes one pass. Passes never abort on a single item; failures
// are counted and listed instead.
type Report struct {
	Pass      string        `json:"pass"`
	StartedAt time.Time     `json:"started_at"`
	Took      time.Duration `json:"took"`
	Processed int           `json:"processed"`
	Created   int           `json:"created"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Errors    []ItemError   `json:"errors,omitempty"`
}

func (r *Report) Fail(e ItemError) {
	r.Failed++
	r.Errors = append(r.Errors, e)
}

// Merge adds the counters and errors of o into r.
func (r *Report) Merge(o Report) {
	r.Processed += o.Processed
	r.Created += o.Created
	r.Succeeded += o.Succeeded
	r.Skipped += o.Skipped
	r.Failed += o.Failed
	r.Errors = append(r.Errors, o.Errors...)
}
