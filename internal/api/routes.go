// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-browse/internal/browser"
	"github.com/joeblew999/plat-browse/internal/humastar"
	"github.com/joeblew999/plat-browse/internal/mapview"
	"github.com/joeblew999/plat-browse/internal/service"
)

// Version is reported by the health and info endpoints.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Map     *service.MapService
	Session *service.SessionService
	Source  *service.SourceService
}

// Types

type MapIDInput struct {
	ID string `path:"id" doc:"Map ID" example:"france"`
}

type SessionInput struct {
	SessionID string `path:"sid" doc:"Session ID"`
}

type FeatureInput struct {
	SessionInput
	FeatureID string `path:"fid" doc:"Feature ID"`
}

type LayerInput struct {
	SessionInput
	LayerID string `path:"lid" doc:"Data layer ID" example:"calque_1"`
}

type MapOutput struct {
	Body service.MapConfig
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

// SessionBody is the state of one open map.
type SessionBody struct {
	ID      string       `json:"id" doc:"Session ID"`
	MapID   string       `json:"mapId" doc:"Map the session was opened on"`
	Name    string       `json:"name" doc:"Map name"`
	View    string       `json:"view" doc:"Map view as zoom/lat/lng" example:"6/51.000/2.000"`
	Pending int          `json:"pending" doc:"Deletes that can still be cancelled"`
	Browser browser.View `json:"browser" doc:"Data browser state"`
}

var (
	panelOpenAction  = humastar.ActionDef{Rel: "open-panel", Pattern: "/api/v1/sessions/%s/panel", Method: http.MethodPost, Title: "Browse data"}
	panelCloseAction = humastar.ActionDef{Rel: "close-panel", Pattern: "/api/v1/sessions/%s/panel", Method: http.MethodPost, Title: "Close"}
	editActions      = []humastar.ActionDef{
		{Rel: "cancel-edits", Pattern: "/api/v1/sessions/%s/edits/cancel", Method: http.MethodPost, Title: "Cancel edits"},
		{Rel: "save-edits", Pattern: "/api/v1/sessions/%s/edits/save", Method: http.MethodPost, Title: "Save"},
	}
)

// Actions returns the panel toggle, plus the edit actions while deletes are
// pending.
func (b SessionBody) Actions() []humastar.Action {
	toggle := panelOpenAction
	if b.Browser.Open {
		toggle = panelCloseAction
	}
	actions := humastar.ActionsFor([]humastar.ActionDef{toggle}, b.ID)
	if b.Pending > 0 {
		actions = append(actions, humastar.ActionsFor(editActions, b.ID)...)
	}
	return actions
}

func newSessionBody(s *service.Session) SessionBody {
	return SessionBody{
		ID:      s.ID,
		MapID:   s.MapID,
		Name:    s.Config.Name,
		View:    s.Map.Camera().String(),
		Pending: s.Controller.Pending(),
		Browser: s.Controller.View(),
	}
}

type SessionOutput struct {
	Body SessionBody
}

// MapViewBody mirrors what the headless map draws.
type MapViewBody struct {
	View    string          `json:"view" doc:"Map view as zoom/lat/lng"`
	Bound   orb.Bound       `json:"bound" doc:"Visible area"`
	Markers int             `json:"markers" doc:"Visible point markers"`
	Paths   int             `json:"paths" doc:"Visible lines and polygons"`
	Shapes  []mapview.Shape `json:"shapes" doc:"Every shape the browser has drawn or hidden"`
	Popup   *PopupBody      `json:"popup,omitempty" doc:"Open popup"`
}

type PopupBody struct {
	Layer   string `json:"layer" doc:"Data layer ID"`
	Feature string `json:"feature" doc:"Feature ID"`
}

type EditsBody struct {
	Changed int         `json:"changed" doc:"Features restored or committed"`
	Session SessionBody `json:"session"`
}

type FilterInput struct {
	SessionInput
	Body struct {
		Query              *string `json:"query,omitempty" doc:"Text filter; empty shows every feature" example:"poly"`
		ViewportRestricted *bool   `json:"viewportRestricted,omitempty" doc:"Only list features in the current map view"`
	}
}

type ViewportInput struct {
	SessionInput
	Body struct {
		View   string    `json:"view,omitempty" doc:"New view as zoom/lat/lng" example:"4/61.98/-2.68"`
		Bound  []float64 `json:"bound,omitempty" minItems:"4" maxItems:"4" doc:"Visible area as west,south,east,north"`
		Settle *bool     `json:"settle,omitempty" doc:"Refresh the list now instead of after the settle delay (default true)"`
	}
}

type ZoomInput struct {
	SessionInput
	Body struct {
		Direction string `json:"direction" enum:"in,out" doc:"Zoom direction"`
	}
}

type PanelInput struct {
	SessionInput
	Body struct {
		Open bool `json:"open" doc:"Open or close the data browser"`
	}
}

type FeaturesInput struct {
	SessionInput
	Layer  string `query:"layer" doc:"Only rows of this data layer"`
	Offset int    `query:"offset" minimum:"0" default:"0" doc:"Rows to skip"`
	Limit  int    `query:"limit" minimum:"1" maximum:"1000" default:"50" doc:"Page size"`
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterMaps registers map CRUD routes.
func (h *APIHandler) RegisterMaps(api huma.API) {
	huma.Get(api, "/api/v1/maps", h.ListMaps, huma.OperationTags("maps"))
	huma.Post(api, "/api/v1/maps", h.CreateMap, huma.OperationTags("maps"))
	huma.Get(api, "/api/v1/maps/{id}", h.GetMap, huma.OperationTags("maps"))
	huma.Put(api, "/api/v1/maps/{id}", h.PutMap, huma.OperationTags("maps"))
	huma.Delete(api, "/api/v1/maps/{id}", h.DeleteMap, huma.OperationTags("maps"))
}

// RegisterSessions registers session routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	tags := huma.OperationTags("sessions")
	huma.Post(api, "/api/v1/maps/{id}/sessions", h.CreateSession, tags)
	huma.Post(api, "/api/v1/preview", h.Preview, tags)
	huma.Get(api, "/api/v1/sessions", h.ListSessions, tags)
	huma.Get(api, "/api/v1/sessions/{sid}", h.GetSession, tags)
	huma.Delete(api, "/api/v1/sessions/{sid}", h.DeleteSession, tags)
	huma.Get(api, "/api/v1/sessions/{sid}/features", h.ListFeatures, tags)
	huma.Put(api, "/api/v1/sessions/{sid}/filter", h.PutFilter, tags)
	huma.Put(api, "/api/v1/sessions/{sid}/viewport", h.PutViewport, tags)
	huma.Post(api, "/api/v1/sessions/{sid}/zoom", h.Zoom, tags)
	huma.Post(api, "/api/v1/sessions/{sid}/panel", h.Panel, tags)
	huma.Post(api, "/api/v1/sessions/{sid}/features/{fid}/select", h.SelectFeature, tags)
	huma.Delete(api, "/api/v1/sessions/{sid}/features/{fid}", h.DeleteFeature, tags)
	huma.Post(api, "/api/v1/sessions/{sid}/edits/cancel", h.CancelEdits, tags)
	huma.Post(api, "/api/v1/sessions/{sid}/edits/save", h.SaveEdits, tags)
	huma.Post(api, "/api/v1/sessions/{sid}/layers/{lid}/show", h.ShowLayer, tags)
	huma.Post(api, "/api/v1/sessions/{sid}/layers/{lid}/hide", h.HideLayer, tags)
	huma.Get(api, "/api/v1/sessions/{sid}/map", h.GetMapView, tags)
}

// RegisterSources registers source listing routes.
func (h *APIHandler) RegisterSources(api huma.API) {
	huma.Get(api, "/api/v1/sources", h.GetSources, huma.OperationTags("sources"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

func (h *APIHandler) ListMaps(ctx context.Context, input *struct{}) (*struct{ Body []service.MapConfig }, error) {
	return &struct{ Body []service.MapConfig }{Body: h.svc.Map.List()}, nil
}

func (h *APIHandler) CreateMap(ctx context.Context, input *struct{ Body service.MapConfig }) (*MapOutput, error) {
	created, err := h.svc.Map.Create(input.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &MapOutput{Body: created}, nil
}

func (h *APIHandler) GetMap(ctx context.Context, input *MapIDInput) (*MapOutput, error) {
	m, err := h.svc.Map.Get(input.ID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &MapOutput{Body: m}, nil
}

func (h *APIHandler) PutMap(ctx context.Context, input *struct {
	MapIDInput
	Body service.MapConfig
}) (*MapOutput, error) {
	updated, err := h.svc.Map.Update(input.ID, input.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &MapOutput{Body: updated}, nil
}

func (h *APIHandler) DeleteMap(ctx context.Context, input *MapIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Map.Delete(input.ID); err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Map deleted"}}, nil
}

func (h *APIHandler) CreateSession(ctx context.Context, input *MapIDInput) (*SessionOutput, error) {
	sess, err := h.svc.Session.Create(ctx, input.ID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &SessionOutput{Body: newSessionBody(sess)}, nil
}

func (h *APIHandler) Preview(ctx context.Context, input *struct{ Body service.PreviewRequest }) (*SessionOutput, error) {
	sess, err := h.svc.Session.Preview(ctx, input.Body)
	if err != nil {
		return nil, toHTTPError(err)
	}
	return &SessionOutput{Body: newSessionBody(sess)}, nil
}

func (h *APIHandler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body []SessionBody }, error) {
	sessions := h.svc.Session.List()
	out := make([]SessionBody, len(sessions))
	for i, s := range sessions {
		out[i] = newSessionBody(s)
	}
	return &struct{ Body []SessionBody }{Body: out}, nil
}

func (h *APIHandler) GetSession(ctx context.Context, input *SessionInput) (*SessionOutput, error) {
	return h.withSession(input.SessionID, nil)
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Session.Delete(input.SessionID); err != nil {
		return nil, toHTTPError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session closed"}}, nil
}

func (h *APIHandler) ListFeatures(ctx context.Context, input *FeaturesInput) (*struct {
	Body humastar.PageBody[browser.Row]
}, error) {
	sess, err := h.svc.Session.Get(input.SessionID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	rows := sess.Controller.View().Rows()
	if input.Layer != "" {
		if _, ok := sess.Controller.Layer(input.Layer); !ok {
			return nil, huma.Error404NotFound("layer not found: " + input.Layer)
		}
		rows = slices.DeleteFunc(rows, func(r browser.Row) bool { return r.Layer != input.Layer })
	}
	return &struct {
		Body humastar.PageBody[browser.Row]
	}{Body: humastar.Page(rows, input.Offset, input.Limit)}, nil
}

func (h *APIHandler) PutFilter(ctx context.Context, input *FilterInput) (*SessionOutput, error) {
	return h.withSession(input.SessionID, func(s *service.Session) error {
		if input.Body.Query != nil {
			s.Controller.SetQuery(*input.Body.Query)
		}
		if input.Body.ViewportRestricted != nil {
			s.Controller.SetViewportRestricted(*input.Body.ViewportRestricted)
		}
		return nil
	})
}

func (h *APIHandler) PutViewport(ctx context.Context, input *ViewportInput) (*SessionOutput, error) {
	body := input.Body
	if (body.View == "") == (len(body.Bound) == 0) {
		return nil, huma.Error422UnprocessableEntity("exactly one of view or bound is required")
	}
	settle := body.Settle == nil || *body.Settle
	return h.withSession(input.SessionID, func(s *service.Session) error {
		if body.View != "" {
			cam, err := mapview.ParseHash(body.View)
			if err != nil {
				return huma.Error422UnprocessableEntity(err.Error())
			}
			s.MoveTo(cam, settle)
			return nil
		}
		b := orb.Bound{Min: orb.Point{body.Bound[0], body.Bound[1]}, Max: orb.Point{body.Bound[2], body.Bound[3]}}
		if b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] {
			return huma.Error422UnprocessableEntity("bound must be west,south,east,north")
		}
		if settle {
			s.Controller.ViewportSettled(b)
		} else {
			s.Controller.ViewportMoved(b)
		}
		return nil
	})
}

func (h *APIHandler) Zoom(ctx context.Context, input *ZoomInput) (*SessionOutput, error) {
	return h.withSession(input.SessionID, func(s *service.Session) error {
		s.Zoom(input.Body.Direction == "in")
		return nil
	})
}

func (h *APIHandler) Panel(ctx context.Context, input *PanelInput) (*SessionOutput, error) {
	return h.withSession(input.SessionID, func(s *service.Session) error {
		if input.Body.Open {
			s.Controller.Open()
		} else {
			s.Controller.Close()
		}
		return nil
	})
}

func (h *APIHandler) SelectFeature(ctx context.Context, input *FeatureInput) (*SessionOutput, error) {
	return h.withSession(input.SessionID, func(s *service.Session) error {
		return s.Controller.Select(input.FeatureID)
	})
}

func (h *APIHandler) DeleteFeature(ctx context.Context, input *FeatureInput) (*SessionOutput, error) {
	return h.withSession(input.SessionID, func(s *service.Session) error {
		return s.Controller.Delete(input.FeatureID)
	})
}

func (h *APIHandler) CancelEdits(ctx context.Context, input *SessionInput) (*struct{ Body EditsBody }, error) {
	return h.edits(input.SessionID, (*browser.Controller).CancelEdits)
}

func (h *APIHandler) SaveEdits(ctx context.Context, input *SessionInput) (*struct{ Body EditsBody }, error) {
	return h.edits(input.SessionID, (*browser.Controller).SaveEdits)
}

func (h *APIHandler) edits(id string, apply func(*browser.Controller) int) (*struct{ Body EditsBody }, error) {
	sess, err := h.svc.Session.Get(id)
	if err != nil {
		return nil, toHTTPError(err)
	}
	n := apply(sess.Controller)
	return &struct{ Body EditsBody }{Body: EditsBody{Changed: n, Session: newSessionBody(sess)}}, nil
}

func (h *APIHandler) ShowLayer(ctx context.Context, input *LayerInput) (*SessionOutput, error) {
	return h.withSession(input.SessionID, func(s *service.Session) error {
		return s.Controller.ShowLayer(input.LayerID)
	})
}

func (h *APIHandler) HideLayer(ctx context.Context, input *LayerInput) (*SessionOutput, error) {
	return h.withSession(input.SessionID, func(s *service.Session) error {
		return s.Controller.HideLayer(input.LayerID)
	})
}

func (h *APIHandler) GetMapView(ctx context.Context, input *SessionInput) (*struct{ Body MapViewBody }, error) {
	sess, err := h.svc.Session.Get(input.SessionID)
	if err != nil {
		return nil, toHTTPError(err)
	}
	body := MapViewBody{
		View:    sess.Map.Camera().String(),
		Bound:   sess.Map.Bound(),
		Markers: sess.Map.Count(mapview.Marker),
		Paths:   sess.Map.Count(mapview.Path),
		Shapes:  sess.Map.Visible(),
	}
	if layer, feature, ok := sess.Map.Popup(); ok {
		body.Popup = &PopupBody{Layer: layer, Feature: feature}
	}
	return &struct{ Body MapViewBody }{Body: body}, nil
}

func (h *APIHandler) GetSources(ctx context.Context, input *struct{}) (*struct{ Body []service.SourceFile }, error) {
	if h.svc.Source == nil {
		return &struct{ Body []service.SourceFile }{Body: []service.SourceFile{}}, nil
	}
	sources, err := h.svc.Source.List()
	if err != nil {
		return nil, huma.Error500InternalServerError("failed to list sources", err)
	}
	return &struct{ Body []service.SourceFile }{Body: sources}, nil
}

// withSession runs fn on a session and returns its new state.
func (h *APIHandler) withSession(id string, fn func(*service.Session) error) (*SessionOutput, error) {
	sess, err := h.svc.Session.Get(id)
	if err != nil {
		return nil, toHTTPError(err)
	}
	if fn != nil {
		if err := fn(sess); err != nil {
			return nil, toHTTPError(err)
		}
	}
	return &SessionOutput{Body: newSessionBody(sess)}, nil
}

// toHTTPError maps service errors onto status codes.
func toHTTPError(err error) error {
	var se huma.StatusError
	switch {
	case errors.As(err, &se):
		return err
	case errors.Is(err, service.ErrMapNotFound),
		errors.Is(err, service.ErrSessionNotFound),
		errors.Is(err, browser.ErrFeatureNotFound),
		errors.Is(err, browser.ErrLayerNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrMapExists):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error400BadRequest(err.Error())
	}
}
