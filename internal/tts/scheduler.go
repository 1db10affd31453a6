package tts

import (
	"context"
	"time"

	"github.com/dgnsrekt/speakstream/internal/queue"
	"github.com/dgnsrekt/speakstream/internal/ttypes"
)

// pumpLocked starts the next buffer when the device is free
// (must be called with lock held).
func (c *Coordinator) pumpLocked() {
	if c.current != nil || c.settle != nil {
		return
	}

	for {
		job, status := c.ready.Take()
		switch status {
		case queue.StatusReady:
			if c.startLocked(job) {
				return
			}
		case queue.StatusSkipped:
			continue
		case queue.StatusBusy:
			return
		default:
			if c.inflight == 0 && c.ready.Len() == 0 {
				c.finishLocked()
			}
			return
		}
	}
}

// startLocked puts job on the device. A buffer the device refuses is
// skipped like a failed synthesis (must be called with lock held).
func (c *Coordinator) startLocked(job *ttypes.Job) bool {
	src, err := c.device.Start(job.Buffer)
	if err != nil {
		c.log.Warn("cannot start segment", "seq", job.Sequence, "err", err)
		c.metrics.SegmentFailed(context.Background(), "device")
		c.emit(Event{Kind: EventSegmentFailed, Session: job.Session, Sequence: job.Sequence, Text: job.Text, Err: err})
		c.ready.Done(job.Sequence)
		job.State = ttypes.JobCancelled
		job.Buffer = nil
		return false
	}

	c.current = &playback{job: job, src: src}
	c.playing.Store(true)
	c.meter.Attach(src)
	c.log.Debug("segment started", "session", job.Session, "seq", job.Sequence, "duration", job.Buffer.Duration())
	c.emit(Event{Kind: EventSegmentStarted, Session: job.Session, Sequence: job.Sequence, Text: job.Text})

	session := c.session
	go func() {
		<-src.Done()
		c.sourceEnded(session, src)
	}()
	return true
}

// sourceEnded releases the device after a buffer ends and schedules the
// next one after the settle delay.
func (c *Coordinator) sourceEnded(session uint64, src ttypes.Source) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Stopped sources end too; Stop has already cleaned up after them.
	if c.closed || session != c.session || c.current == nil || c.current.src != src {
		return
	}

	job := c.current.job
	c.current = nil
	c.ready.Done(job.Sequence)
	job.Buffer = nil
	c.meter.Detach()

	c.metrics.SegmentPlayed(context.Background())
	c.log.Debug("segment done", "session", session, "seq", job.Sequence)
	c.emit(Event{Kind: EventSegmentDone, Session: session, Sequence: job.Sequence, Text: job.Text})

	if c.config.SettleDelay <= 0 {
		c.pumpLocked()
		return
	}
	c.settle = time.AfterFunc(c.config.SettleDelay, func() {
		c.settled(session)
	})
}

func (c *Coordinator) settled(session uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || session != c.session {
		return
	}
	c.settle = nil
	c.pumpLocked()
}

// finishLocked marks the end of speech once everything dispatched has
// played (must be called with lock held).
func (c *Coordinator) finishLocked() {
	if !c.playing.Swap(false) {
		return
	}
	c.meter.Detach()
	c.log.Debug("speech finished", "session", c.session)
	c.emit(Event{Kind: EventFinished, Session: c.session})
}
