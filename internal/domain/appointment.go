package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Appointment is one scheduled visit (cita) for a pet with a
// veterinarian. Availability math only cares about the time footprint;
// the pet, veterinarian and reason are opaque payload.
type Appointment struct {
	bun.BaseModel `bun:"table:citas"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	PetID          uuid.UUID `bun:"mascota_id,notnull,type:uuid"`
	VetID          uuid.UUID `bun:"veterinario_id,notnull,type:uuid"`
	Reason         string    `bun:"motivo"`
	StartTime      time.Time `bun:"fecha_hora,notnull"`
	DurationBlocks int       `bun:"duracion_estimada,notnull"`
	EndTime        time.Time `bun:"fecha_hora_fin,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

// Blocks returns the occupancy length in 30-minute blocks. Records
// written with a zero or missing duration count as one block.
func (a Appointment) Blocks() int {
	if a.DurationBlocks < 1 {
		return 1
	}
	return a.DurationBlocks
}

// EndsAt is the exclusive end of the appointment's occupancy interval.
func (a Appointment) EndsAt() time.Time {
	if !a.EndTime.IsZero() {
		return a.EndTime
	}
	return a.StartTime.Add(time.Duration(a.Blocks()) * BlockLength)
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.DurationBlocks < 1 {
			a.DurationBlocks = 1
		}
		if a.EndTime.IsZero() {
			a.EndTime = a.StartTime.Add(time.Duration(a.DurationBlocks) * BlockLength)
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}
