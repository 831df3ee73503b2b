package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"vetclinica/internal/domain"
	"vetclinica/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ErrSlotUnavailable means the requested span failed the availability
// check against the current agenda. It is distinct from validation
// errors: the request was well formed, the slot just is not free.
var ErrSlotUnavailable = errors.New("slot not available")

type Service struct {
	repo store.AppointmentRepository
	loc  *time.Location
	now  func() time.Time
}

// NewService builds the scheduling service. loc is the clinic's
// timezone for interpreting agenda days; nil means UTC.
func NewService(repo store.AppointmentRepository, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, loc: loc, now: time.Now}
}

type DayViewInput struct {
	Date           time.Time
	VetID          uuid.UUID // uuid.Nil means the whole clinic
	DurationBlocks int
}

// DayView classifies the 48 half-hour slots of the requested clinic
// day for a prospective booking of the given length.
func (s *Service) DayView(ctx context.Context, in DayViewInput) ([]domain.DaySlot, error) {
	if in.Date.IsZero() {
		return nil, validationError("fecha is required")
	}
	blocks := in.DurationBlocks
	if blocks == 0 {
		blocks = 1
	}
	if blocks < 1 {
		return nil, validationError("duracion_estimada must be at least 1")
	}
	if blocks > domain.SlotsPerDay {
		return nil, validationError("duracion_estimada too long")
	}

	dayStart := domain.Midnight(in.Date.In(s.loc))
	dayEnd := dayStart.AddDate(0, 0, 1)

	var (
		citas []domain.Appointment
		err   error
	)
	if in.VetID == uuid.Nil {
		citas, err = s.repo.ListForDay(ctx, dayStart, dayEnd)
	} else {
		citas, err = s.repo.ListForVetDay(ctx, in.VetID, dayStart, dayEnd)
	}
	if err != nil {
		return nil, err
	}

	return domain.ClassifyDay(dayStart, citas, blocks, s.now())
}

type BookInput struct {
	PetID          uuid.UUID
	VetID          uuid.UUID
	Reason         string
	StartTime      time.Time
	DurationBlocks int
	IdempotencyKey string
}

// Book creates an appointment after revalidating availability against
// a fresh snapshot of the vet's day. The database constraint remains
// the authority for races that slip past the snapshot.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	if in.PetID == uuid.Nil {
		return domain.Appointment{}, validationError("mascota_id is required")
	}
	if in.VetID == uuid.Nil {
		return domain.Appointment{}, validationError("veterinario_id is required")
	}
	if in.StartTime.IsZero() {
		return domain.Appointment{}, validationError("fecha_hora is required")
	}

	blocks := in.DurationBlocks
	if blocks == 0 {
		blocks = 1
	}
	if blocks < 1 {
		return domain.Appointment{}, validationError("duracion_estimada must be at least 1")
	}
	if blocks > domain.SlotsPerDay {
		return domain.Appointment{}, validationError("duracion_estimada too long")
	}

	local := in.StartTime.In(s.loc)
	if local.Second() != 0 || local.Nanosecond() != 0 ||
		(local.Minute() != 0 && local.Minute() != 30) {
		return domain.Appointment{}, validationError("fecha_hora must start on a half-hour boundary")
	}

	slot, err := domain.NewTimeSlot(local, local.Hour(), local.Minute())
	if err != nil {
		return domain.Appointment{}, validationError(err.Error())
	}

	dayStart := domain.Midnight(local)
	dayEnd := dayStart.AddDate(0, 0, 1)
	citas, err := s.repo.ListForVetDay(ctx, in.VetID, dayStart, dayEnd)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !domain.CanBookContiguous(slot, blocks, citas, s.now()) {
		return domain.Appointment{}, ErrSlotUnavailable
	}

	cita := domain.Appointment{
		PetID:          in.PetID,
		VetID:          in.VetID,
		Reason:         strings.TrimSpace(in.Reason),
		StartTime:      local.UTC(),
		DurationBlocks: blocks,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		cita.ID = uuid.NewSHA1(uuid.NameSpaceOID, []byte("vetclinica:crear_cita:"+in.VetID.String()+":"+key))
	}

	return s.repo.Create(ctx, cita)
}

// ListDay returns the day's appointments ordered by start time, for
// one vet or the whole clinic.
func (s *Service) ListDay(ctx context.Context, date time.Time, vetID uuid.UUID) ([]domain.Appointment, error) {
	if date.IsZero() {
		return nil, validationError("fecha is required")
	}

	dayStart := domain.Midnight(date.In(s.loc))
	dayEnd := dayStart.AddDate(0, 0, 1)

	if vetID == uuid.Nil {
		return s.repo.ListForDay(ctx, dayStart, dayEnd)
	}
	return s.repo.ListForVetDay(ctx, vetID, dayStart, dayEnd)
}

// Cancel removes an appointment and returns the cancelled record.
func (s *Service) Cancel(ctx context.Context, citaID uuid.UUID) (domain.Appointment, error) {
	if citaID == uuid.Nil {
		return domain.Appointment{}, validationError("cita_id is required")
	}
	return s.repo.Delete(ctx, citaID)
}
