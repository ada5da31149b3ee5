package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// GenesisHash is the prev_hash of the first line in each audit file.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// SinkConfig bounds the durable audit store.
type SinkConfig struct {
	// Dir receives rotated JSONL files.
	Dir string
	// MaxFileBytes rotates the current file once exceeded. Default 8 MiB.
	MaxFileBytes int64
	// MaxFiles caps retained files; the oldest are deleted. Default 16.
	MaxFiles int
	// FlushThreshold is the queued-event depth that triggers a write.
	// Events are not written one at a time. Default 32.
	FlushThreshold int
}

func (c SinkConfig) withDefaults() SinkConfig {
	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 8 << 20
	}
	if c.MaxFiles <= 0 {
		c.MaxFiles = 16
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = 32
	}
	return c
}

// persistedEvent is one JSONL line: the event plus the hash of the
// previous line, forming a per-file tamper-evident chain.
type persistedEvent struct {
	Event
	PrevHash string `json:"prev_hash"`
}

// Sink persists audit events to rotated, hash-chained JSONL files. Writes
// are decoupled from the caller through an internal queue flushed by depth
// threshold (and a short interval timer), never per event and never on the
// caller's goroutine.
type Sink struct {
	cfg SinkConfig

	mu       sync.Mutex
	file     *os.File
	size     int64
	seq      int
	prevHash string

	queue   chan Event
	closing chan struct{}
	done    chan struct{}
}

// NewSink opens (or creates) the sink directory and starts the writer.
func NewSink(cfg SinkConfig) (*Sink, error) {
	cfg = cfg.withDefaults()
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit: sink directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: create sink directory: %w", err)
	}
	s := &Sink{
		cfg:      cfg,
		prevHash: GenesisHash,
		queue:    make(chan Event, cfg.FlushThreshold*8),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := s.rotate(); err != nil {
		return nil, err
	}
	go s.run()
	return s, nil
}

// Enqueue hands an event to the writer. Never blocks: if the queue is
// full the event is dropped from durable storage (it is still in the
// in-memory log). Returns false on drop.
func (s *Sink) Enqueue(e Event) bool {
	select {
	case s.queue <- e:
		return true
	default:
		return false
	}
}

func (s *Sink) run() {
	defer close(s.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	pending := make([]Event, 0, s.cfg.FlushThreshold)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		s.writeBatch(pending)
		pending = pending[:0]
	}

	for {
		select {
		case e := <-s.queue:
			pending = append(pending, e)
			if len(pending) >= s.cfg.FlushThreshold {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.closing:
			for {
				select {
				case e := <-s.queue:
					pending = append(pending, e)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *Sink) writeBatch(events []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range events {
		line, err := json.Marshal(persistedEvent{Event: e, PrevHash: s.prevHash})
		if err != nil {
			continue
		}
		if _, err := s.file.Write(append(line, '\n')); err != nil {
			continue
		}
		s.prevHash = HashLine(line)
		s.size += int64(len(line)) + 1
		if s.size > s.cfg.MaxFileBytes {
			s.rotateLocked()
		}
	}
	s.file.Sync()
}

// rotate opens a fresh timestamped file and prunes old ones.
func (s *Sink) rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rotateLocked()
}

func (s *Sink) rotateLocked() error {
	if s.file != nil {
		s.file.Close()
	}
	s.seq++
	name := fmt.Sprintf("audit-%s-%04d.jsonl", time.Now().UTC().Format("20060102T150405"), s.seq)
	path := filepath.Join(s.cfg.Dir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: open sink file: %w", err)
	}
	s.file = f
	s.size = 0
	s.prevHash = GenesisHash
	s.pruneLocked()
	return nil
}

func (s *Sink) pruneLocked() {
	files, err := listAuditFiles(s.cfg.Dir)
	if err != nil {
		return
	}
	for len(files) > s.cfg.MaxFiles {
		os.Remove(files[0])
		files = files[1:]
	}
}

// Flush blocks until everything queued so far is on disk. For tests and
// shutdown paths, not the request path.
func (s *Sink) Flush() {
	for {
		select {
		case e := <-s.queue:
			s.writeBatch([]Event{e})
		default:
			return
		}
	}
}

// Close drains the queue and closes the current file.
func (s *Sink) Close() error {
	close(s.closing)
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

// Files returns the sink's audit files, oldest first.
func (s *Sink) Files() ([]string, error) {
	return listAuditFiles(s.cfg.Dir)
}

func listAuditFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), "audit-") || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
