package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"vetclinica/internal/domain"
)

type AppointmentRepository interface {
	Create(ctx context.Context, cita domain.Appointment) (domain.Appointment, error)
	ListForDay(ctx context.Context, dayStart, dayEnd time.Time) ([]domain.Appointment, error)
	ListForVetDay(ctx context.Context, vetID uuid.UUID, dayStart, dayEnd time.Time) ([]domain.Appointment, error)
	Delete(ctx context.Context, citaID uuid.UUID) (domain.Appointment, error)
}
