package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LedgerRecord is the provenance record derived from a tool-call event and
// appended to the evidence ledger.
type LedgerRecord struct {
	Kind      string
	Operation string
	Workspace string
	SessionID string
	InputHash string
	Payload   map[string]any
}

// Ledger is the evidence store the logger fans out to. Appends are
// fire-and-forget relative to the tool call being recorded: failures are
// converted into secondary error events and never reach the caller.
type Ledger interface {
	Append(rec LedgerRecord) error
}

// Config tunes one Logger. The zero value is usable: info minimum
// severity, default ring size, default redaction, no sink, no ledger.
type Config struct {
	MinSeverity Severity
	RingSize    int
	Redaction   *RedactionPolicy
	Sink        *Sink
	Ledger      Ledger
}

// Logger is an append-only, redacting, queryable event log. One Logger
// exists per workspace path (plus one process-level logger); they share
// nothing.
type Logger struct {
	minSeverity Severity
	policy      *RedactionPolicy
	ring        *ring
	sink        *Sink
	ledger      Ledger

	ledgerQueue chan LedgerRecord
	closing     chan struct{}
	done        chan struct{}
	closeOnce   sync.Once

	now func() time.Time
}

// NewLogger builds a Logger from cfg and starts the ledger worker if a
// ledger is attached.
func NewLogger(cfg Config) *Logger {
	if cfg.MinSeverity == "" {
		cfg.MinSeverity = SeverityInfo
	}
	if cfg.Redaction == nil {
		cfg.Redaction = NewRedactionPolicy(nil, "")
	}
	l := &Logger{
		minSeverity: cfg.MinSeverity,
		policy:      cfg.Redaction,
		ring:        newRing(cfg.RingSize),
		sink:        cfg.Sink,
		ledger:      cfg.Ledger,
		closing:     make(chan struct{}),
		done:        make(chan struct{}),
		now:         time.Now,
	}
	if l.ledger != nil {
		l.ledgerQueue = make(chan LedgerRecord, 256)
		go l.runLedger()
	} else {
		close(l.done)
	}
	return l
}

// Log records an event: assigns ID and timestamp, redacts the payload,
// computes the content hash, appends to the in-memory log, and queues the
// durable write. Events below the minimum severity are dropped; the
// returned sentinel has an empty ID (check with Logged) rather than an
// error, so call sites stay unconditional.
func (l *Logger) Log(e Event) Event {
	if severityRank[e.Severity] < severityRank[l.minSeverity] {
		return Event{}
	}
	e.ID = uuid.NewString()
	e.Timestamp = l.now().UTC()
	e.DataHash = contentHash(e.Input, e.Output)
	e.Input = l.policy.RedactMap(e.Input)
	e.Output = l.policy.RedactMap(e.Output)

	l.ring.append(e)
	if l.sink != nil {
		l.sink.Enqueue(e)
	}
	if e.Type == TypeToolCall && l.ledgerQueue != nil {
		rec := LedgerRecord{
			Kind:      "tool_call",
			Operation: e.Operation,
			Workspace: e.Workspace,
			SessionID: e.SessionID,
			InputHash: e.DataHash,
			Payload:   map[string]any{"status": string(e.Status), "event_id": e.ID},
		}
		select {
		case l.ledgerQueue <- rec:
		default:
			// Queue full: drop rather than block the tool call.
			l.LogError("evidence_append", fmt.Errorf("audit: ledger queue full, record dropped"))
		}
	}
	return e
}

// runLedger drains the ledger queue. An append failure becomes a secondary
// error event; it never propagates to the tool call that produced the
// record (fail-open, limited to this one dependency).
func (l *Logger) runLedger() {
	defer close(l.done)
	for {
		select {
		case rec := <-l.ledgerQueue:
			if err := l.ledger.Append(rec); err != nil {
				l.LogError("evidence_append", fmt.Errorf("audit: ledger append: %w", err))
			}
		case <-l.closing:
			for {
				select {
				case rec := <-l.ledgerQueue:
					if err := l.ledger.Append(rec); err != nil {
						l.LogError("evidence_append", fmt.Errorf("audit: ledger append: %w", err))
					}
				default:
					return
				}
			}
		}
	}
}

// Close stops the ledger worker after draining it. The sink, if any, is
// owned by the caller and closed separately.
func (l *Logger) Close() {
	l.closeOnce.Do(func() {
		close(l.closing)
	})
	<-l.done
}

// LogToolCall records a tool invocation. Failed calls log at error
// severity.
func (l *Logger) LogToolCall(e Event) Event {
	e.Type = TypeToolCall
	e.Severity = SeverityInfo
	if e.Status == StatusFailure {
		e.Severity = SeverityError
	}
	return l.Log(e)
}

// LogResourceAccess records a resource read.
func (l *Logger) LogResourceAccess(e Event) Event {
	e.Type = TypeResourceRead
	e.Severity = SeverityInfo
	if e.Status == StatusFailure {
		e.Severity = SeverityError
	}
	return l.Log(e)
}

// LogAuthorization records an authorization decision. Denials log at
// warning severity.
func (l *Logger) LogAuthorization(e Event) Event {
	e.Type = TypeAuthorization
	e.Severity = SeverityInfo
	if e.Status == StatusDenied {
		e.Severity = SeverityWarning
	}
	return l.Log(e)
}

// LogSession records session lifecycle changes.
func (l *Logger) LogSession(e Event) Event {
	e.Type = TypeSession
	e.Severity = SeverityInfo
	return l.Log(e)
}

// LogError records an internal failure.
func (l *Logger) LogError(operation string, err error) Event {
	return l.Log(Event{
		Type:      TypeError,
		Severity:  SeverityError,
		Operation: operation,
		Status:    StatusFailure,
		Error:     err.Error(),
	})
}

// LogSystem records process-level activity.
func (l *Logger) LogSystem(operation string, status Status) Event {
	return l.Log(Event{
		Type:      TypeSystem,
		Severity:  SeverityInfo,
		Operation: operation,
		Status:    status,
	})
}

// contentHash returns a short hash over the unredacted input and output,
// so a redacted event still pins down what it recorded.
func contentHash(input, output map[string]any) string {
	payload, err := json.Marshal(map[string]any{"input": input, "output": output})
	if err != nil {
		return ""
	}
	h := sha256.Sum256(payload)
	return "sha256:" + hex.EncodeToString(h[:8])
}
