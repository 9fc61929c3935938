// Package panel serves the data browser panel as Datastar SSE fragments.
package panel

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/joeblew999/plat-browse/internal/browser"
	"github.com/joeblew999/plat-browse/internal/humastar"
	"github.com/joeblew999/plat-browse/internal/service"
	"github.com/joeblew999/plat-browse/internal/templates"
)

// Tag marks panel operations; they get no derived hypermedia links.
const Tag = "panel"

const (
	panelSelector    = "#panel"
	sectionsSelector = "#browser-sections"
	closedPanel      = `<div id="panel"></div>`
)

type Handler struct {
	humastar.Handler
	sessions *service.SessionService
	bus      *service.EventBus
	log      *zap.Logger
}

func NewHandler(sessions *service.SessionService, bus *service.EventBus, renderer *templates.Renderer, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
		bus:      bus,
		log:      log,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/panel/{sid}", h.Show, huma.OperationTags(Tag))
	huma.Post(api, "/api/v1/panel/{sid}/open", h.Open, huma.OperationTags(Tag))
	huma.Post(api, "/api/v1/panel/{sid}/close", h.Close, huma.OperationTags(Tag))
	huma.Post(api, "/api/v1/panel/{sid}/filter", h.Filter, huma.OperationTags(Tag))
	huma.Get(api, "/api/v1/panel/{sid}/events", h.Events, huma.OperationTags(Tag))
}

type SessionInput struct {
	SessionID string `path:"sid" doc:"Session ID"`
}

type FilterInput struct {
	SessionID string `path:"sid" doc:"Session ID"`
	RawBody   []byte
}

// panelData feeds the browser-panel fragment.
type panelData struct {
	Session  string
	Signals  string
	Sections []browser.Section
}

func (h *Handler) data(sess *service.Session) panelData {
	v := sess.Controller.View()
	signals, _ := json.Marshal(map[string]any{
		"filter": v.Filter.TextQuery,
		"inbbox": v.Filter.ViewportRestricted,
	})
	return panelData{Session: sess.ID, Signals: string(signals), Sections: v.Sections}
}

func (h *Handler) session(id string) (*service.Session, error) {
	sess, err := h.sessions.Get(id)
	if errors.Is(err, service.ErrSessionNotFound) {
		return nil, huma.Error404NotFound(err.Error())
	}
	return sess, err
}

// Show renders the panel, or clears it while the browser is closed.
func (h *Handler) Show(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	return h.Stream(func(sse humastar.SSE) {
		h.patchPanel(sse, sess)
	}), nil
}

func (h *Handler) Open(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	sess.Controller.Open()
	return h.Stream(func(sse humastar.SSE) {
		h.patchPanel(sse, sess)
	}), nil
}

func (h *Handler) Close(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	sess.Controller.Close()
	return h.Stream(func(sse humastar.SSE) {
		sse.Replace(closedPanel, panelSelector)
	}), nil
}

// Filter applies the filter and inbbox signals posted by the panel form.
func (h *Handler) Filter(ctx context.Context, input *FilterInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	signals, err := humastar.ParseSignals(input.RawBody)
	if err != nil {
		return nil, err
	}
	if signals.Has("filter") {
		sess.Controller.SetQuery(signals.String("filter"))
	}
	if signals.Has("inbbox") {
		sess.Controller.SetViewportRestricted(signals.Bool("inbbox"))
	}
	return h.Stream(func(sse humastar.SSE) {
		h.patchSections(sse, sess)
	}), nil
}

// Events keeps the list in sync with every re-render of the session, for
// instance after map moves or edits made through the REST API. It ends when
// the client goes away or the session is closed.
func (h *Handler) Events(ctx context.Context, input *SessionInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.SessionID)
	if err != nil {
		return nil, err
	}
	return h.Watch(func(ctx context.Context, sse humastar.SSE) {
		sub := h.bus.SubscribeSession(sess.ID)
		defer h.bus.Unsubscribe(sub)

		open := sess.Controller.IsOpen()
		h.patchPanel(sse, sess)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				switch ev.Action {
				case "deleted":
					sse.Replace(closedPanel, panelSelector)
					return
				case "rendered":
					// Redrawing only the sections keeps the filter input focused.
					if now := sess.Controller.IsOpen(); now != open {
						open = now
						h.patchPanel(sse, sess)
					} else if open {
						h.patchSections(sse, sess)
					}
				}
			}
		}
	}), nil
}

func (h *Handler) patchPanel(sse humastar.SSE, sess *service.Session) {
	if !sess.Controller.IsOpen() {
		sse.Replace(closedPanel, panelSelector)
		return
	}
	html, err := h.Renderer.Render("browser-panel", h.data(sess))
	if err != nil {
		h.log.Error("render panel", zap.String("session", sess.ID), zap.Error(err))
		sse.Error(err.Error())
		return
	}
	sse.Patch(html, panelSelector)
}

func (h *Handler) patchSections(sse humastar.SSE, sess *service.Session) {
	sections := sess.Controller.View().Sections
	items := make([]any, len(sections))
	for i, sec := range sections {
		items[i] = sec
	}
	sse.Patch(h.RenderList("browser-section", items, "No data", "This map has no browsable layer"), sectionsSelector)
}
