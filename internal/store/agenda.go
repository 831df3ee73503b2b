package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vetclinica/internal/domain"
)

// AgendaTx is the per-veterinarian transactional view of the agenda.
// Implementations hold the vet's advisory lock for the duration of the
// callback, so reads inside it see a stable snapshot for that vet.
type AgendaTx interface {
	CreateCita(ctx context.Context, cita domain.Appointment) (domain.Appointment, error)
	ListCitas(ctx context.Context, vetID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	DeleteCita(ctx context.Context, citaID uuid.UUID) (domain.Appointment, error)
}
