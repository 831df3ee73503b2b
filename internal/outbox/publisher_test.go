package outbox

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/uptrace/bun"
)

func TestSplitBrokers(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "single", in: "localhost:9092", want: []string{"localhost:9092"}},
		{name: "multiple with spaces", in: "a:9092, b:9092 ,c:9092", want: []string{"a:9092", "b:9092", "c:9092"}},
		{name: "trailing comma", in: "a:9092,", want: []string{"a:9092"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitBrokers(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("broker %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

type fakeTxRunner struct{}

func (fakeTxRunner) RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error {
	return fn(ctx, bun.Tx{})
}

type fakeRowStore struct {
	rows      []Row
	published [][]int64
	writes    *int
	markedAt  int
}

func (s *fakeRowStore) FetchUnpublished(ctx context.Context, tx bun.Tx, limit int) ([]Row, error) {
	if limit < len(s.rows) {
		return s.rows[:limit], nil
	}
	return s.rows, nil
}

func (s *fakeRowStore) MarkPublished(ctx context.Context, tx bun.Tx, ids []int64) error {
	s.published = append(s.published, ids)
	if s.writes != nil {
		s.markedAt = *s.writes
	}
	return nil
}

type fakeMessageWriter struct {
	msgs   []kafka.Message
	writes int
	err    error
}

func (w *fakeMessageWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	w.writes += len(msgs)
	return nil
}

func testPublisher(store rowStore) *Publisher {
	return &Publisher{
		db:        fakeTxRunner{},
		repo:      store,
		log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		batchSize: 10,
	}
}

func TestPublishBatch_WritesAllRowsThenMarksPublished(t *testing.T) {
	rows := []Row{
		{
			ID:          1,
			EventID:     uuid.MustParse("00000000-0000-0000-0000-000000000e01"),
			AggregateID: "cita-1",
			EventType:   "vetclinica.cita.booked.v1",
			Payload:     []byte(`{"id":"cita-1"}`),
		},
		{
			ID:          2,
			EventID:     uuid.MustParse("00000000-0000-0000-0000-000000000e02"),
			AggregateID: "cita-2",
			EventType:   "vetclinica.cita.cancelled.v1",
			Payload:     []byte(`{"id":"cita-2"}`),
		},
	}
	writer := &fakeMessageWriter{}
	store := &fakeRowStore{rows: rows, writes: &writer.writes}
	p := testPublisher(store)

	if err := p.publishBatch(context.Background(), writer); err != nil {
		t.Fatalf("publishBatch error: %v", err)
	}

	if len(writer.msgs) != 2 {
		t.Fatalf("messages written = %d, want 2", len(writer.msgs))
	}
	if writer.msgs[0].Topic != "vetclinica.cita.booked.v1" {
		t.Fatalf("topic = %q, want event type", writer.msgs[0].Topic)
	}
	if string(writer.msgs[1].Key) != "cita-2" {
		t.Fatalf("key = %q, want aggregate id", writer.msgs[1].Key)
	}
	if len(writer.msgs[0].Headers) != 2 ||
		writer.msgs[0].Headers[0].Key != "event_id" ||
		string(writer.msgs[0].Headers[0].Value) != rows[0].EventID.String() {
		t.Fatalf("headers = %+v, want event_id/event_type", writer.msgs[0].Headers)
	}

	if len(store.published) != 1 {
		t.Fatalf("MarkPublished calls = %d, want 1", len(store.published))
	}
	if got := store.published[0]; len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("published ids = %v, want [1 2]", got)
	}
	// Rows are marked only after every message reached the broker.
	if store.markedAt != 2 {
		t.Fatalf("marked after %d writes, want 2", store.markedAt)
	}
}

func TestPublishBatch_WriterErrorLeavesRowsUnpublished(t *testing.T) {
	store := &fakeRowStore{rows: []Row{{ID: 1, EventType: "vetclinica.cita.booked.v1", AggregateID: "cita-1"}}}
	p := testPublisher(store)

	wantErr := errors.New("broker down")
	err := p.publishBatch(context.Background(), &fakeMessageWriter{err: wantErr})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
	if len(store.published) != 0 {
		t.Fatalf("MarkPublished calls = %d, want 0", len(store.published))
	}
}

func TestPublishBatch_EmptyBatchDoesNothing(t *testing.T) {
	store := &fakeRowStore{}
	writer := &fakeMessageWriter{}
	p := testPublisher(store)

	if err := p.publishBatch(context.Background(), writer); err != nil {
		t.Fatalf("publishBatch error: %v", err)
	}
	if len(writer.msgs) != 0 || len(store.published) != 0 {
		t.Fatalf("expected no writes and no marks, got %d/%d", len(writer.msgs), len(store.published))
	}
}

func TestPublishBatch_RespectsBatchSize(t *testing.T) {
	rows := make([]Row, 5)
	for i := range rows {
		rows[i] = Row{ID: int64(i + 1), EventType: "vetclinica.cita.booked.v1", AggregateID: "cita"}
	}
	writer := &fakeMessageWriter{}
	store := &fakeRowStore{rows: rows}
	p := testPublisher(store)
	p.batchSize = 3

	if err := p.publishBatch(context.Background(), writer); err != nil {
		t.Fatalf("publishBatch error: %v", err)
	}
	if len(writer.msgs) != 3 {
		t.Fatalf("messages written = %d, want 3", len(writer.msgs))
	}
	if got := store.published[0]; len(got) != 3 {
		t.Fatalf("published ids = %v, want 3 ids", got)
	}
}
