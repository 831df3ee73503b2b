package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Row is one persisted outbox record. PublishedAt stays NULL until the
// publisher has handed the event to the broker.
type Row struct {
	bun.BaseModel `bun:"table:outbox_events"`

	ID            int64           `bun:"id,pk,autoincrement"`
	EventID       uuid.UUID       `bun:"event_id,notnull,type:uuid"`
	AggregateType string          `bun:"aggregate_type,notnull"`
	AggregateID   string          `bun:"aggregate_id,notnull"`
	EventType     string          `bun:"event_type,notnull"`
	Payload       json.RawMessage `bun:"payload,notnull,type:jsonb"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
	PublishedAt   *time.Time      `bun:"published_at"`
}

func (r *Row) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if r.EventID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			r.EventID = id
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert writes the event inside the caller's transaction so the event
// commits or rolls back together with the state change.
func (r *Repository) Insert(ctx context.Context, db bun.IDB, evt Event) error {
	row := Row{
		AggregateType: evt.AggregateType,
		AggregateID:   evt.AggregateID,
		EventType:     evt.EventType,
		Payload:       evt.Payload,
	}
	_, err := db.NewInsert().Model(&row).Exec(ctx)
	return err
}

func (r *Repository) FetchUnpublished(ctx context.Context, tx bun.Tx, limit int) ([]Row, error) {
	var rows []Row
	err := tx.NewSelect().
		Model(&rows).
		Where("published_at IS NULL").
		OrderExpr("id ASC").
		Limit(limit).
		For("UPDATE SKIP LOCKED").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repository) MarkPublished(ctx context.Context, tx bun.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.NewUpdate().
		Model((*Row)(nil)).
		Set("published_at = now()").
		Where("id IN (?)", bun.In(ids)).
		Exec(ctx)
	return err
}
