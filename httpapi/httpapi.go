// Package httpapi exposes motors over HTTP/JSON:
//
//	GET  /motors                 all configured motors with telemetry
//	GET  /motors/{name}          one motor
//	POST /motors/{name}/{mode}   {"value": 0.2, "offDelay": 1.5}
package httpapi

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/notnil/multivesc/motor"
	"github.com/notnil/multivesc/vesc"
)

// Motors is the lookup the API needs; *multivesc.Manager implements it.
type Motors interface {
	Motors() []*motor.Motor
	MotorByName(name string) *motor.Motor
}

// NewRouter returns the API handler.
func NewRouter(ms Motors, logger *slog.Logger) http.Handler {
	h := &handler{motors: ms, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Route("/motors", func(r chi.Router) {
		r.Get("/", h.list)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/{mode}", h.command)
		})
	})
	return r
}

type handler struct {
	motors Motors
	logger *slog.Logger
}

// MotorResponse is the JSON view of a motor.
type MotorResponse struct {
	Name      string            `json:"name"`
	ID        vesc.ControllerID `json:"id"`
	Enabled   bool              `json:"enabled"`
	Primary   string            `json:"primaryMode"`
	Mode      string            `json:"mode"`
	Demand    float64           `json:"demand"`
	RPM       float64           `json:"rpm"`
	Telemetry motor.Snapshot    `json:"telemetry"`
}

func newMotorResponse(m *motor.Motor) *MotorResponse {
	st := m.DriveState()
	return &MotorResponse{
		Name:      m.Name(),
		ID:        m.ID(),
		Enabled:   m.Enabled(),
		Primary:   m.PrimaryMode().String(),
		Mode:      st.Mode.String(),
		Demand:    st.Value,
		RPM:       m.RPM(),
		Telemetry: m.Snapshot(),
	}
}

func (*MotorResponse) Render(http.ResponseWriter, *http.Request) error { return nil }

// CommandRequest is the body of a command.
type CommandRequest struct {
	Value    *float64 `json:"value"`
	OffDelay *float64 `json:"offDelay"`
}

func (c *CommandRequest) Bind(*http.Request) error {
	if c.Value == nil {
		return errors.New("missing value")
	}
	return nil
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	ms := h.motors.Motors()
	list := make([]render.Renderer, len(ms))
	for i, m := range ms {
		list[i] = newMotorResponse(m)
	}
	render.RenderList(w, r, list)
}

func (h *handler) lookup(w http.ResponseWriter, r *http.Request) *motor.Motor {
	m := h.motors.MotorByName(chi.URLParam(r, "name"))
	if m == nil {
		render.Render(w, r, ErrNotFound)
	}
	return m
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	if m := h.lookup(w, r); m != nil {
		render.Render(w, r, newMotorResponse(m))
	}
}

func (h *handler) command(w http.ResponseWriter, r *http.Request) {
	m := h.lookup(w, r)
	if m == nil {
		return
	}
	mode, err := motor.ParseDriveMode(chi.URLParam(r, "mode"))
	if err != nil || mode == motor.ModeNone {
		render.Render(w, r, ErrInvalidRequest(errors.New("unknown drive mode")))
		return
	}
	var req CommandRequest
	if err := render.Bind(r, &req); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	switch {
	case req.OffDelay != nil && mode == motor.ModeCurrent:
		err = m.SetCurrentOffDelay(*req.Value, *req.OffDelay)
	case req.OffDelay != nil && mode == motor.ModeCurrentRel:
		err = m.SetCurrentRelOffDelay(*req.Value, *req.OffDelay)
	default:
		err = m.Set(mode, *req.Value)
	}
	if err != nil {
		h.logger.Debug("http command rejected", "motor", m.Name(), "mode", mode, "error", err)
		render.Render(w, r, ErrRejected(err))
		return
	}
	render.Render(w, r, newMotorResponse(m))
}
