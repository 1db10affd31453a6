package queue

import (
	"errors"
	"sync"
	"time"

	"github.com/dgnsrekt/speakstream/internal/ttypes"
)

var (
	// ErrDuplicateSequence is returned when a sequence is submitted twice
	ErrDuplicateSequence = errors.New("sequence already submitted")

	// ErrBehindHead is returned when a sequence older than the head is submitted
	ErrBehindHead = errors.New("sequence already released")
)

// Status describes what Take found at the head of the buffer.
type Status int

const (
	// StatusWaiting means the next expected sequence has not completed yet
	StatusWaiting Status = iota

	// StatusReady means a decoded job was released and is now playing
	StatusReady

	// StatusSkipped means a cancelled job was dropped and the head advanced
	StatusSkipped

	// StatusBusy means the head job is still playing
	StatusBusy
)

// String returns the string representation of the status
func (s Status) String() string {
	switch s {
	case StatusWaiting:
		return "waiting"
	case StatusReady:
		return "ready"
	case StatusSkipped:
		return "skipped"
	case StatusBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// ReadyBuffer reorders completed jobs so they are released strictly by
// sequence number, no matter in which order synthesis finishes.
// A job is released only when every earlier sequence has been played or skipped.
type ReadyBuffer struct {
	entries      map[uint64]*ttypes.Job
	nextExpected uint64

	mu    sync.Mutex
	stats Stats
}

// Stats tracks buffer activity
type Stats struct {
	Submitted   int64
	Failed      int64
	Released    int64
	Skipped     int64
	PeakPending int
	LastRelease time.Time
}

// NewReadyBuffer creates an empty buffer expecting sequence 0 first.
func NewReadyBuffer() *ReadyBuffer {
	return &ReadyBuffer{
		entries: make(map[uint64]*ttypes.Job),
	}
}

// Submit stores a decoded job under its sequence number.
func (b *ReadyBuffer) Submit(job *ttypes.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkInsert(job.Sequence); err != nil {
		return err
	}

	job.State = ttypes.JobDecoded
	b.insert(job)
	b.stats.Submitted++
	return nil
}

// Fail stores a cancelled placeholder so the head can move past it.
func (b *ReadyBuffer) Fail(job *ttypes.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.checkInsert(job.Sequence); err != nil {
		return err
	}

	job.State = ttypes.JobCancelled
	job.Buffer = nil
	b.insert(job)
	b.stats.Failed++
	return nil
}

func (b *ReadyBuffer) checkInsert(seq uint64) error {
	if seq < b.nextExpected {
		return ErrBehindHead
	}
	if _, ok := b.entries[seq]; ok {
		return ErrDuplicateSequence
	}
	return nil
}

func (b *ReadyBuffer) insert(job *ttypes.Job) {
	b.entries[job.Sequence] = job
	if len(b.entries) > b.stats.PeakPending {
		b.stats.PeakPending = len(b.entries)
	}
}

// Take inspects the head of the buffer.
// A decoded head is returned with StatusReady and marked playing; it stays at
// the head until Done is called. A cancelled head is removed and returned with
// StatusSkipped. An absent head yields StatusWaiting.
func (b *ReadyBuffer) Take() (*ttypes.Job, Status) {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.entries[b.nextExpected]
	if !ok {
		return nil, StatusWaiting
	}

	switch job.State {
	case ttypes.JobCancelled:
		delete(b.entries, b.nextExpected)
		b.nextExpected++
		b.stats.Skipped++
		return job, StatusSkipped

	case ttypes.JobPlaying:
		return job, StatusBusy

	default:
		job.State = ttypes.JobPlaying
		b.stats.Released++
		b.stats.LastRelease = time.Now()
		return job, StatusReady
	}
}

// Done retires the playing head and advances to the next sequence.
// It reports false when seq is not the playing head.
func (b *ReadyBuffer) Done(seq uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.entries[seq]
	if !ok || seq != b.nextExpected || job.State != ttypes.JobPlaying {
		return false
	}

	job.State = ttypes.JobDone
	delete(b.entries, seq)
	b.nextExpected++
	return true
}

// NextExpected returns the sequence number the head is waiting for.
func (b *ReadyBuffer) NextExpected() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextExpected
}

// Len returns how many jobs are held, including the playing head.
func (b *ReadyBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Reset drops every held job and restarts at sequence 0.
func (b *ReadyBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, job := range b.entries {
		job.Buffer = nil
	}
	b.entries = make(map[uint64]*ttypes.Job)
	b.nextExpected = 0
}

// Stats returns a snapshot of buffer activity.
func (b *ReadyBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
