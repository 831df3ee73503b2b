package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"vetclinica/internal/domain"
	"vetclinica/internal/outbox"
	"vetclinica/internal/store"
)

const (
	EventCitaBooked    = "vetclinica.cita.booked.v1"
	EventCitaCancelled = "vetclinica.cita.cancelled.v1"
)

type CitaRepo struct {
	db     *bun.DB
	outbox *outbox.Repository
}

func NewCitaRepo(db *bun.DB, ob *outbox.Repository) *CitaRepo {
	return &CitaRepo{db: db, outbox: ob}
}

type agendaTx struct {
	tx     bun.Tx
	outbox *outbox.Repository
}

func (r *CitaRepo) Create(ctx context.Context, cita domain.Appointment) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.InVetTransaction(ctx, cita.VetID, func(ctx context.Context, tx store.AgendaTx) error {
		c, err := tx.CreateCita(ctx, cita)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (r *CitaRepo) ListForDay(ctx context.Context, dayStart, dayEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("fecha_hora < ?", dayEnd).
		Where("fecha_hora_fin > ?", dayStart).
		OrderExpr("fecha_hora ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CitaRepo) ListForVetDay(ctx context.Context, vetID uuid.UUID, dayStart, dayEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("veterinario_id = ?", vetID).
		Where("fecha_hora < ?", dayEnd).
		Where("fecha_hora_fin > ?", dayStart).
		OrderExpr("fecha_hora ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *CitaRepo) Delete(ctx context.Context, citaID uuid.UUID) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		a := agendaTx{tx: tx, outbox: r.outbox}
		c, err := a.DeleteCita(ctx, citaID)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// InVetTransaction runs fn holding the veterinarian's advisory lock,
// serializing concurrent bookings on the same agenda.
func (r *CitaRepo) InVetTransaction(ctx context.Context, vetID uuid.UUID, fn func(ctx context.Context, tx store.AgendaTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockVetAgenda(ctx, tx, vetID); err != nil {
			return err
		}
		return fn(ctx, agendaTx{tx: tx, outbox: r.outbox})
	})
}

func lockVetAgenda(ctx context.Context, tx bun.Tx, vetID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", vetID.String()).Exec(ctx)
	return err
}

func (r agendaTx) CreateCita(ctx context.Context, cita domain.Appointment) (domain.Appointment, error) {
	m := domain.Appointment{
		ID:             cita.ID,
		PetID:          cita.PetID,
		VetID:          cita.VetID,
		Reason:         cita.Reason,
		StartTime:      cita.StartTime,
		DurationBlocks: cita.DurationBlocks,
		EndTime:        cita.EndTime,
		CreatedAt:      cita.CreatedAt,
		UpdatedAt:      cita.UpdatedAt,
	}

	// A caller-supplied id means a retried request. Replays must be
	// resolved by lookup before the insert: a constraint failure
	// aborts the whole transaction, and a replayed interval overlaps
	// itself, so the exclusion constraint would fire before the
	// primary key. The vet's advisory lock makes the lookup race-free.
	if m.ID != uuid.Nil {
		var existing domain.Appointment
		err := r.tx.NewSelect().
			Model(&existing).
			Where("id = ?", m.ID).
			Limit(1).
			Scan(ctx)
		switch {
		case err == nil:
			if existing.PetID != cita.PetID ||
				existing.VetID != cita.VetID ||
				existing.Reason != cita.Reason ||
				!existing.StartTime.Equal(cita.StartTime) ||
				existing.Blocks() != m.Blocks() {
				return domain.Appointment{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		case !errors.Is(err, sql.ErrNoRows):
			return domain.Appointment{}, err
		}
	}

	_, err := r.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23P01" && pgErr.ConstraintName == "citas_vet_no_overlap" {
				return domain.Appointment{}, store.ErrConflict
			}
			if pgErr.Code == "23505" {
				return domain.Appointment{}, store.ErrIdempotencyConflict
			}
		}
		return domain.Appointment{}, err
	}

	if err := r.emit(ctx, EventCitaBooked, m); err != nil {
		return domain.Appointment{}, err
	}
	return m, nil
}

func (r agendaTx) ListCitas(ctx context.Context, vetID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.tx.NewSelect().
		Model(&rows).
		Where("veterinario_id = ?", vetID).
		Where("fecha_hora < ?", windowEnd).
		Where("fecha_hora_fin > ?", windowStart).
		OrderExpr("fecha_hora ASC, id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r agendaTx) DeleteCita(ctx context.Context, citaID uuid.UUID) (domain.Appointment, error) {
	var existing domain.Appointment
	err := r.tx.NewSelect().
		Model(&existing).
		Where("id = ?", citaID).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}

	_, err = r.tx.NewDelete().
		Model((*domain.Appointment)(nil)).
		Where("id = ?", citaID).
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, err
	}

	if err := r.emit(ctx, EventCitaCancelled, existing); err != nil {
		return domain.Appointment{}, err
	}
	return existing, nil
}

type citaEventPayload struct {
	ID               uuid.UUID `json:"id"`
	MascotaID        uuid.UUID `json:"mascota_id"`
	VeterinarioID    uuid.UUID `json:"veterinario_id"`
	Motivo           string    `json:"motivo"`
	FechaHora        time.Time `json:"fecha_hora"`
	DuracionEstimada int       `json:"duracion_estimada"`
	FechaHoraFin     time.Time `json:"fecha_hora_fin"`
}

func (r agendaTx) emit(ctx context.Context, eventType string, cita domain.Appointment) error {
	if r.outbox == nil {
		return nil
	}
	payload, err := json.Marshal(citaEventPayload{
		ID:               cita.ID,
		MascotaID:        cita.PetID,
		VeterinarioID:    cita.VetID,
		Motivo:           cita.Reason,
		FechaHora:        cita.StartTime.UTC(),
		DuracionEstimada: cita.Blocks(),
		FechaHoraFin:     cita.EndsAt().UTC(),
	})
	if err != nil {
		return err
	}
	return r.outbox.Insert(ctx, r.tx, outbox.Event{
		AggregateType: "cita",
		AggregateID:   cita.ID.String(),
		EventType:     eventType,
		Payload:       payload,
	})
}
