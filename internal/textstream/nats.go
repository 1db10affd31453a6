package textstream

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/nats-io/nats.go"
)

// Subjects are the NATS subjects the listener serves.
type Subjects struct {
	Chunk string // payload is streamed text
	Flush string // speak whatever is pending
	Say   string // payload replaces current speech
	Stop  string // silence everything
}

// NewSubjects derives the subjects from a prefix, e.g. "speakstream.chunk".
func NewSubjects(prefix string) Subjects {
	return Subjects{
		Chunk: prefix + ".chunk",
		Flush: prefix + ".flush",
		Say:   prefix + ".say",
		Stop:  prefix + ".stop",
	}
}

// ErrUnknownSubject is returned for a message on an unserved subject.
var ErrUnknownSubject = errors.New("unknown subject")

// Connect dials NATS and keeps reconnecting for as long as the process runs.
func Connect(url string, logger *log.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = log.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name("speakstream"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "err", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger.Info("connected to NATS", "url", url)
	return conn, nil
}

// Listener routes NATS messages to a Speaker. Messages are handled one at a
// time in arrival order, so chunks keep their order.
type Listener struct {
	subjects Subjects
	speaker  Speaker
	sub      *nats.Subscription
	log      *log.Logger
}

// NewListener creates a listener; call Start to subscribe.
func NewListener(prefix string, s Speaker, logger *log.Logger) *Listener {
	if logger == nil {
		logger = log.Default()
	}
	return &Listener{
		subjects: NewSubjects(prefix),
		speaker:  s,
		log:      logger.WithPrefix("nats"),
	}
}

// Start subscribes to every subject under the prefix.
func (l *Listener) Start(conn *nats.Conn) error {
	wildcard := strings.TrimSuffix(l.subjects.Chunk, ".chunk") + ".*"
	sub, err := conn.Subscribe(wildcard, l.handleMsg)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", wildcard, err)
	}
	l.sub = sub
	l.log.Info("listening", "subject", wildcard)
	return nil
}

// Close drains the subscription.
func (l *Listener) Close() error {
	if l.sub == nil {
		return nil
	}
	return l.sub.Drain()
}

func (l *Listener) handleMsg(msg *nats.Msg) {
	err := l.handle(msg.Subject, msg.Data)
	if err != nil {
		l.log.Warn("message not handled", "subject", msg.Subject, "err", err)
	}

	if msg.Reply == "" {
		return
	}
	reply := []byte("ok")
	if err != nil {
		reply = []byte("error: " + err.Error())
	}
	if rerr := msg.Respond(reply); rerr != nil {
		l.log.Debug("cannot reply", "err", rerr)
	}
}

// handle applies one message to the speaker.
func (l *Listener) handle(subject string, data []byte) error {
	switch subject {
	case l.subjects.Chunk:
		return l.speaker.SpeakStream(string(data))
	case l.subjects.Flush:
		return l.speaker.Flush()
	case l.subjects.Say:
		return l.speaker.Play(string(data))
	case l.subjects.Stop:
		l.speaker.Stop()
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
}
