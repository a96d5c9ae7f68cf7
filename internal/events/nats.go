package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"cinetrack/internal/domain"
	"cinetrack/internal/metrics"
)

const applyTimeout = 10 * time.Second

func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	options := []nats.Option{
		nats.Name("cinetrack"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	}
	nc, err := nats.Connect(url, options...)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return nc, nil
}

type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNATSPublisher(conn *nats.Conn, subject string) *NATSPublisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSPublisher{conn: conn, subject: subject}
}

func (p *NATSPublisher) PublishSearch(_ context.Context, event domain.SearchEvent) error {
	data, err := Encode(event)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		metrics.SearchEventsPublishedTotal.WithLabelValues("nats", "error").Inc()
		return domain.WrapTransient(err)
	}
	metrics.SearchEventsPublishedTotal.WithLabelValues("nats", "ok").Inc()
	return nil
}

// Subscriber applies events from a NATS queue group, so each event is
// handled by one server instance.
type Subscriber struct {
	Conn    *nats.Conn
	Subject string
	Queue   string
	Applier Applier
	Logger  *slog.Logger
}

// Run consumes until ctx is done, then drains the subscription.
func (s Subscriber) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	subject := s.Subject
	if subject == "" {
		subject = DefaultSubject
	}
	queue := s.Queue
	if queue == "" {
		queue = "cinetrack-trend"
	}

	msgs := make(chan *nats.Msg, 256)
	sub, err := s.Conn.ChanQueueSubscribe(subject, queue, msgs)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	logger.Info("search event subscriber started", slog.String("subject", subject), slog.String("queue", queue))

	for {
		select {
		case <-ctx.Done():
			if err := sub.Drain(); err != nil {
				logger.Warn("nats drain failed", slog.String("error", err.Error()))
			}
			return nil
		case msg := <-msgs:
			handleMessage(ctx, s.Applier, msg.Data, logger)
		}
	}
}

func handleMessage(ctx context.Context, applier Applier, data []byte, logger *slog.Logger) {
	event, err := Decode(data)
	if err != nil {
		logger.Warn("dropping malformed search event", slog.String("error", err.Error()))
		return
	}
	applyEvent(ctx, applier, event, logger)
}

func applyEvent(ctx context.Context, applier Applier, event domain.SearchEvent, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), applyTimeout)
	defer cancel()
	if err := applier.Apply(ctx, event); err != nil {
		logger.Warn("search event not recorded",
			slog.Int("movieId", event.Movie.ID),
			slog.String("query", event.Query),
			slog.String("error", err.Error()))
	}
}
