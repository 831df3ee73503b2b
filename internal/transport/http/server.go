package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"vetclinica/internal/domain"
	"vetclinica/internal/service/scheduling"
	"vetclinica/internal/store"
)

// SchedulingService is the slice of the scheduling service the HTTP
// layer needs.
type SchedulingService interface {
	DayView(ctx context.Context, in scheduling.DayViewInput) ([]domain.DaySlot, error)
	Book(ctx context.Context, in scheduling.BookInput) (domain.Appointment, error)
	ListDay(ctx context.Context, date time.Time, vetID uuid.UUID) ([]domain.Appointment, error)
	Cancel(ctx context.Context, citaID uuid.UUID) (domain.Appointment, error)
}

type Server struct {
	svc   SchedulingService
	log   *slog.Logger
	loc   *time.Location
	ready func(ctx context.Context) error
}

// NewServer builds the REST surface. loc is the clinic timezone used
// to parse fecha parameters; ready is the readiness probe (nil means
// always ready).
func NewServer(svc SchedulingService, log *slog.Logger, loc *time.Location, ready func(ctx context.Context) error) *Server {
	if loc == nil {
		loc = time.UTC
	}
	return &Server{svc: svc, log: log, loc: loc, ready: ready}
}

func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/agenda", s.handleAgenda)
	mux.HandleFunc("GET /api/v1/citas", s.handleListCitas)
	mux.HandleFunc("POST /api/v1/citas", s.handleCreateCita)
	mux.HandleFunc("DELETE /api/v1/citas/{id}", s.handleCancelCita)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	return mux
}

type citaJSON struct {
	ID               uuid.UUID `json:"id"`
	MascotaID        uuid.UUID `json:"mascota_id"`
	VeterinarioID    uuid.UUID `json:"veterinario_id"`
	FechaHora        string    `json:"fecha_hora"`
	DuracionEstimada int       `json:"duracion_estimada"`
	Motivo           string    `json:"motivo"`
	FechaHoraFin     string    `json:"fecha_hora_fin"`
	CreadoEn         string    `json:"creado_en"`
}

type agendaSlotJSON struct {
	Hora   string    `json:"hora"`
	Estado string    `json:"estado"`
	Cita   *citaJSON `json:"cita,omitempty"`
}

type agendaResponse struct {
	Fecha            string           `json:"fecha"`
	DuracionEstimada int              `json:"duracion_estimada"`
	Slots            []agendaSlotJSON `json:"slots"`
}

func toCitaJSON(c domain.Appointment) citaJSON {
	return citaJSON{
		ID:               c.ID,
		MascotaID:        c.PetID,
		VeterinarioID:    c.VetID,
		FechaHora:        c.StartTime.UTC().Format(time.RFC3339),
		DuracionEstimada: c.Blocks(),
		Motivo:           c.Reason,
		FechaHoraFin:     c.EndsAt().UTC().Format(time.RFC3339),
		CreadoEn:         c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func slotEstado(status domain.SlotStatus) string {
	switch status {
	case domain.SlotOccupied:
		return "ocupado"
	case domain.SlotPast:
		return "pasado"
	case domain.SlotAvailable:
		return "disponible"
	default:
		return "no_disponible"
	}
}

func (s *Server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	log := s.log.With("handler", "agenda")

	q := r.URL.Query()
	fecha := q.Get("fecha")
	if fecha == "" {
		writeError(w, http.StatusBadRequest, "fecha is required")
		return
	}
	date, err := time.ParseInLocation("2006-01-02", fecha, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fecha, expected YYYY-MM-DD")
		return
	}

	blocks := 1
	if raw := q.Get("duracion_estimada"); raw != "" {
		blocks, err = strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid duracion_estimada")
			return
		}
		if blocks == 0 {
			blocks = 1
		}
	}

	var vetID uuid.UUID
	if raw := q.Get("veterinario_id"); raw != "" {
		vetID, err = uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid veterinario_id")
			return
		}
	}

	slots, err := s.svc.DayView(r.Context(), scheduling.DayViewInput{
		Date:           date,
		VetID:          vetID,
		DurationBlocks: blocks,
	})
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	resp := agendaResponse{
		Fecha:            fecha,
		DuracionEstimada: blocks,
		Slots:            make([]agendaSlotJSON, 0, len(slots)),
	}
	for _, ds := range slots {
		item := agendaSlotJSON{
			Hora:   fmt.Sprintf("%02d:%02d", ds.Slot.Hour, ds.Slot.Minute),
			Estado: slotEstado(ds.Status),
		}
		if ds.Cita != nil {
			c := toCitaJSON(*ds.Cita)
			item.Cita = &c
		}
		resp.Slots = append(resp.Slots, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListCitas(w http.ResponseWriter, r *http.Request) {
	log := s.log.With("handler", "list_citas")

	q := r.URL.Query()
	fecha := q.Get("fecha")
	if fecha == "" {
		writeError(w, http.StatusBadRequest, "fecha is required")
		return
	}
	date, err := time.ParseInLocation("2006-01-02", fecha, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fecha, expected YYYY-MM-DD")
		return
	}

	var vetID uuid.UUID
	if raw := q.Get("veterinario_id"); raw != "" {
		vetID, err = uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid veterinario_id")
			return
		}
	}

	citas, err := s.svc.ListDay(r.Context(), date, vetID)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}

	items := make([]citaJSON, 0, len(citas))
	for _, c := range citas {
		items = append(items, toCitaJSON(c))
	}
	writeJSON(w, http.StatusOK, items)
}

type createCitaRequest struct {
	MascotaID        string `json:"mascota_id"`
	VeterinarioID    string `json:"veterinario_id"`
	FechaHora        string `json:"fecha_hora"`
	DuracionEstimada int    `json:"duracion_estimada"`
	Motivo           string `json:"motivo"`
}

func (s *Server) handleCreateCita(w http.ResponseWriter, r *http.Request) {
	log := s.log.With("handler", "create_cita")

	var req createCitaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	var in scheduling.BookInput
	var err error
	if req.MascotaID != "" {
		in.PetID, err = uuid.Parse(req.MascotaID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid mascota_id")
			return
		}
	}
	if req.VeterinarioID != "" {
		in.VetID, err = uuid.Parse(req.VeterinarioID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid veterinario_id")
			return
		}
	}
	if req.FechaHora != "" {
		in.StartTime, err = time.Parse(time.RFC3339, req.FechaHora)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid fecha_hora, expected RFC 3339")
			return
		}
	}
	in.Reason = req.Motivo
	in.DurationBlocks = req.DuracionEstimada
	in.IdempotencyKey = r.Header.Get("Idempotency-Key")

	cita, err := s.svc.Book(r.Context(), in)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCitaJSON(cita))
}

func (s *Server) handleCancelCita(w http.ResponseWriter, r *http.Request) {
	log := s.log.With("handler", "cancel_cita")

	citaID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid cita id")
		return
	}

	cita, err := s.svc.Cancel(r.Context(), citaID)
	if err != nil {
		s.writeServiceError(w, log, err)
		return
	}
	writeJSON(w, http.StatusOK, toCitaJSON(cita))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.log.Warn("readiness check failed", "err", err)
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeServiceError maps service and store errors onto HTTP statuses.
// Availability failures and write conflicts both answer 409 but with
// different messages, so clients can tell a stale agenda from a lost
// race.
func (s *Server) writeServiceError(w http.ResponseWriter, log *slog.Logger, err error) {
	var vErr *scheduling.ValidationError
	switch {
	case errors.As(err, &vErr):
		writeError(w, http.StatusBadRequest, vErr.Error())
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "ese horario no está disponible")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "ese horario acaba de ser reservado")
	case errors.Is(err, store.ErrIdempotencyConflict):
		writeError(w, http.StatusConflict, "idempotency key already used with a different request")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "cita not found")
	default:
		log.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
