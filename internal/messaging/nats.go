package messaging

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

type BusMetrics interface {
	NATSPublishedInc(kind string)
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
	CommandReceivedInc()
}

// Bus receives commands on <prefix>.commands and publishes events on
// <prefix>.events.<kind>, or <prefix>.sessions.<sessionId>.<kind> for events
// that belong to a session.
type Bus struct {
	nc          *nats.Conn
	prefix      string
	logSubjects bool
	metrics     BusMetrics
	logger      *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

func NewBus(url, prefix string, logSubjects bool, m BusMetrics, logger *slog.Logger) (*Bus, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats"))
	nc, err := nats.Connect(url,
		nats.Name("isochroned"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			logger.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			logger.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	if prefix = strings.Trim(prefix, "."); prefix == "" {
		prefix = "isochrones"
	}
	return &Bus{nc: nc, prefix: prefix, logSubjects: logSubjects, metrics: m, logger: logger}, nil
}

func (b *Bus) CommandSubject() string { return b.prefix + ".commands" }

// Subscribe delivers every payload on the command subject to handle, one at
// a time, on the NATS dispatch goroutine.
func (b *Bus) Subscribe(handle func([]byte)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.sub != nil {
		return errors.New("already subscribed")
	}
	sub, err := b.nc.Subscribe(b.CommandSubject(), func(msg *nats.Msg) {
		if b.metrics != nil {
			b.metrics.CommandReceivedInc()
		}
		handle(msg.Data)
	})
	if err != nil {
		return err
	}
	b.sub = sub
	b.logger.Info("listening for commands", "subject", b.CommandSubject())
	return nil
}

// Send publishes one event.
func (b *Bus) Send(ev Event) error {
	subject := subjectFor(b.prefix, ev)
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if b.logSubjects {
		b.logger.Debug("nats publish", "subject", subject, "bytes", len(data))
	}
	start := time.Now()
	err = b.nc.Publish(subject, data)
	if b.metrics != nil {
		b.metrics.PublishObserve(time.Since(start))
		if err != nil {
			b.metrics.NATSPublishErrInc()
		} else {
			b.metrics.NATSPublishedInc(ev.Kind())
		}
	}
	return err
}

func (b *Bus) Close() {
	if b.nc != nil {
		_ = b.nc.Drain()
		b.nc.Close()
	}
}

func subjectFor(prefix string, ev Event) string {
	if sid := ev.Session(); sid != "" {
		return prefix + ".sessions." + subjectToken(sid) + "." + ev.Kind()
	}
	return prefix + ".events." + ev.Kind()
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
