package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"cinetrack/internal/domain"
)

type recordingApplier struct {
	mu     sync.Mutex
	events []domain.SearchEvent
	err    error
	got    chan struct{}
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{got: make(chan struct{}, 100)}
}

func (a *recordingApplier) Apply(_ context.Context, event domain.SearchEvent) error {
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
	a.got <- struct{}{}
	return a.err
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent(id int) domain.SearchEvent {
	return domain.SearchEvent{
		Query:      "batman",
		Movie:      domain.MovieSummary{ID: id, Title: "Batman"},
		OccurredAt: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(sampleEvent(272))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	event, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if event.Query != "batman" || event.Movie.ID != 272 || !event.OccurredAt.Equal(sampleEvent(0).OccurredAt) {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	if _, err := Decode([]byte("{not json")); err == nil {
		t.Fatal("expected error for malformed json")
	}
	if _, err := Decode([]byte(`{"query":"x","movie":{"id":0}}`)); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestHandleMessageDropsMalformed(t *testing.T) {
	applier := newRecordingApplier()
	handleMessage(context.Background(), applier, []byte("garbage"), quietLogger())
	if applier.count() != 0 {
		t.Fatal("malformed message reached the applier")
	}

	data, _ := Encode(sampleEvent(1))
	handleMessage(context.Background(), applier, data, quietLogger())
	if applier.count() != 1 {
		t.Fatal("valid message not applied")
	}
}

func TestApplyErrorsAreSwallowed(t *testing.T) {
	applier := newRecordingApplier()
	applier.err = errors.New("store down")
	applyEvent(context.Background(), applier, sampleEvent(1), quietLogger())
	if applier.count() != 1 {
		t.Fatal("event not applied")
	}
}

func TestAsyncPublisherAppliesEvents(t *testing.T) {
	applier := newRecordingApplier()
	publisher := NewAsyncPublisher(applier, 2, 16, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- publisher.Run(ctx) }()

	for i := 1; i <= 10; i++ {
		if err := publisher.PublishSearch(context.Background(), sampleEvent(i)); err != nil {
			t.Fatalf("PublishSearch(%d): %v", i, err)
		}
	}
	for i := 0; i < 10; i++ {
		select {
		case <-applier.got:
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d events applied", applier.count())
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if err := publisher.PublishSearch(context.Background(), sampleEvent(99)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("publish after stop: expected ErrQueueFull, got %v", err)
	}
}

func TestAsyncPublisherDropsWhenFull(t *testing.T) {
	publisher := NewAsyncPublisher(newRecordingApplier(), 1, 1, quietLogger())

	if err := publisher.PublishSearch(context.Background(), sampleEvent(1)); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	if err := publisher.PublishSearch(context.Background(), sampleEvent(2)); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestAsyncPublisherDrainsQueueOnStop(t *testing.T) {
	applier := newRecordingApplier()
	publisher := NewAsyncPublisher(applier, 1, 8, quietLogger())
	for i := 1; i <= 3; i++ {
		_ = publisher.PublishSearch(context.Background(), sampleEvent(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = publisher.Run(ctx)

	if applier.count() != 3 {
		t.Fatalf("expected queued events to be applied on stop, got %d", applier.count())
	}
}

func TestNATSRoundTrip(t *testing.T) {
	url := os.Getenv("NATS_TEST_URL")
	if url == "" {
		t.Skipf("NATS_TEST_URL not set")
	}
	conn, err := Connect(url, quietLogger())
	if err != nil {
		t.Skipf("NATS not reachable at %s: %v", url, err)
	}
	defer conn.Close()

	subject := "cinetrack.test." + time.Now().Format("150405.000000000")
	applier := newRecordingApplier()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Subscriber{Conn: conn, Subject: subject, Applier: applier, Logger: quietLogger()}.Run(ctx)
	}()

	publisher := NewNATSPublisher(conn, subject)
	deadline := time.After(5 * time.Second)
	for {
		if err := publisher.PublishSearch(context.Background(), sampleEvent(5)); err != nil {
			t.Fatalf("PublishSearch: %v", err)
		}
		select {
		case <-applier.got:
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("event not delivered")
		}
	}
}
