package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgnsrekt/speakstream/internal/ttypes"
)

// dispatchLocked assigns sequence numbers to text and starts synthesizing
// it (must be called with lock held).
func (c *Coordinator) dispatchLocked(text string) {
	for _, part := range splitLong(text, MaxSegmentLength) {
		job := &ttypes.Job{
			Sequence:     c.nextSeq,
			Session:      c.session,
			Text:         part,
			State:        ttypes.JobPending,
			DispatchedAt: time.Now(),
		}
		c.nextSeq++
		c.inflight++

		c.metrics.SegmentDispatched(context.Background())
		c.log.Debug("segment dispatched", "session", job.Session, "seq", job.Sequence, "chars", len(part))
		c.emit(Event{Kind: EventSegmentQueued, Session: job.Session, Sequence: job.Sequence, Text: part})

		go c.synthesize(c.ctx, job)
	}
}

// synthesize runs one job through normalization, synthesis and decoding,
// then hands the result back to the coordinator.
func (c *Coordinator) synthesize(ctx context.Context, job *ttypes.Job) {
	job.State = ttypes.JobFetching
	buf, err := c.render(ctx, job.Text)
	c.complete(job, buf, err)
}

func (c *Coordinator) render(ctx context.Context, text string) (*ttypes.SampleBuffer, error) {
	spoken := c.normalizer.Normalize(text)
	if spoken == "" {
		return nil, ErrNothingToSpeak
	}

	if c.config.SynthesisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.config.SynthesisTimeout)
		defer cancel()
	}

	data, err := c.synth.Synthesize(ctx, spoken)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, NewTTSError(ErrorCodeTimeout, "synthesis timed out", err)
		case errors.Is(ctx.Err(), context.Canceled):
			return nil, NewTTSError(ErrorCodeCanceled, "synthesis canceled", err)
		}
		return nil, NewTTSError(ErrorCodeSynthesisFailure, "synthesis request failed",
			fmt.Errorf("%w: %w", ErrSynthesisFailed, err))
	}

	buf, err := c.decoder.Decode(data)
	if err != nil {
		return nil, NewTTSError(ErrorCodeDecodeFailure, "cannot decode synthesized audio",
			fmt.Errorf("%w: %w", ErrDecodeFailed, err))
	}
	return buf, nil
}

// complete records the outcome of a job. Outcomes from a superseded session
// are dropped without touching any state.
func (c *Coordinator) complete(job *ttypes.Job, buf *ttypes.SampleBuffer, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || job.Session != c.session {
		c.log.Debug("discarding stale completion", "session", job.Session, "current", c.session, "seq", job.Sequence)
		c.metrics.StaleCompletion(context.Background())
		return
	}

	c.inflight--

	if err != nil {
		if errors.Is(err, ErrNothingToSpeak) {
			c.log.Debug("segment has nothing to speak", "seq", job.Sequence)
		} else {
			c.log.Warn("segment skipped", "seq", job.Sequence, "stage", stageOf(err), "err", err)
			c.metrics.SegmentFailed(context.Background(), stageOf(err))
			c.emit(Event{Kind: EventSegmentFailed, Session: job.Session, Sequence: job.Sequence, Text: job.Text, Err: err})
		}
		if ferr := c.ready.Fail(job); ferr != nil {
			c.log.Error("cannot record failed segment", "seq", job.Sequence, "err", ferr)
		}
		c.pumpLocked()
		return
	}

	job.Buffer = buf
	c.metrics.SynthesisLatency(context.Background(), time.Since(job.DispatchedAt))
	if serr := c.ready.Submit(job); serr != nil {
		c.log.Error("cannot queue decoded segment", "seq", job.Sequence, "err", serr)
	}
	c.pumpLocked()
}
