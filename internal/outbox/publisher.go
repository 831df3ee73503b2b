package outbox

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/uptrace/bun"
)

// messageWriter is the subset of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type txRunner interface {
	RunInTx(ctx context.Context, opts *sql.TxOptions, fn func(ctx context.Context, tx bun.Tx) error) error
}

type rowStore interface {
	FetchUnpublished(ctx context.Context, tx bun.Tx, limit int) ([]Row, error)
	MarkPublished(ctx context.Context, tx bun.Tx, ids []int64) error
}

type Publisher struct {
	db        txRunner
	repo      rowStore
	log       *slog.Logger
	brokers   []string
	pollEvery time.Duration
	batchSize int
}

type PublisherConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

// SplitBrokers parses a comma-separated broker list, dropping empty
// entries.
func SplitBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

func NewPublisher(db *bun.DB, repo *Repository, log *slog.Logger, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		db:        db,
		repo:      repo,
		log:       log,
		brokers:   SplitBrokers(cfg.Brokers),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

// Run polls the outbox until ctx is cancelled. Rows are locked with
// SKIP LOCKED, so multiple instances never double-publish; a batch
// whose write fails rolls back and is retried on the next tick.
func (p *Publisher) Run(ctx context.Context) {
	if len(p.brokers) == 0 {
		p.log.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}

	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers:  p.brokers,
		Balancer: &kafka.Hash{},
	})
	defer writer.Close()

	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.publishBatch(ctx, writer); err != nil {
				p.log.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// publishBatch hands one batch of unpublished rows to the broker and
// marks them published in the same transaction. A failed write rolls
// the marks back, so rows stay visible for the next tick.
func (p *Publisher) publishBatch(ctx context.Context, writer messageWriter) error {
	return p.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		rows, err := p.repo.FetchUnpublished(ctx, tx, p.batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		for _, r := range rows {
			msg := kafka.Message{
				Topic: r.EventType,
				Key:   []byte(r.AggregateID),
				Value: r.Payload,
				Headers: []kafka.Header{
					{Key: "event_id", Value: []byte(r.EventID.String())},
					{Key: "event_type", Value: []byte(r.EventType)},
				},
			}
			if err := writer.WriteMessages(ctx, msg); err != nil {
				return err
			}
		}

		ids := make([]int64, 0, len(rows))
		for _, r := range rows {
			ids = append(ids, r.ID)
		}
		return p.repo.MarkPublished(ctx, tx, ids)
	})
}
