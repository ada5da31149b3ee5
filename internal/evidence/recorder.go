package evidence

import "github.com/loreguard/loreguard/internal/audit"

// Recorder adapts a Ledger to the audit logger's fan-out interface,
// stamping each derived record with fixed provenance.
type Recorder struct {
	Ledger *Ledger
	Source string
}

// Append converts an audit ledger record into an evidence entry.
func (r Recorder) Append(rec audit.LedgerRecord) error {
	_, err := r.Ledger.Append(Entry{
		Kind:      rec.Kind,
		SessionID: rec.SessionID,
		Payload:   rec.Payload,
		Provenance: Provenance{
			Source:    r.Source,
			Method:    rec.Operation,
			Agent:     rec.SessionID,
			InputHash: rec.InputHash,
		},
	})
	return err
}
