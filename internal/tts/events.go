package tts

// EventKind identifies what happened in the pipeline.
type EventKind int

const (
	// EventSegmentQueued fires when a segment is sent for synthesis
	EventSegmentQueued EventKind = iota

	// EventSegmentStarted fires when a segment's audio starts playing
	EventSegmentStarted

	// EventSegmentDone fires when a segment's audio plays to the end
	EventSegmentDone

	// EventSegmentFailed fires when a segment is skipped
	EventSegmentFailed

	// EventFinished fires when everything queued in a session has played
	EventFinished

	// EventStopped fires when Stop interrupts speech
	EventStopped
)

// String returns the string representation of the event kind
func (k EventKind) String() string {
	switch k {
	case EventSegmentQueued:
		return "queued"
	case EventSegmentStarted:
		return "started"
	case EventSegmentDone:
		return "done"
	case EventSegmentFailed:
		return "failed"
	case EventFinished:
		return "finished"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event reports pipeline progress.
type Event struct {
	Kind     EventKind
	Session  uint64
	Sequence uint64
	Text     string
	Err      error
}
