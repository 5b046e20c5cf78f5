package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"padu/internal/adapters/functions"
	"padu/internal/app"
	"padu/internal/auth"
	"padu/internal/domain"
	"padu/internal/events"
	"padu/internal/ingest"
	"padu/internal/pending"
	"padu/internal/routing"
	"padu/internal/store"
)

const (
	maxJSONBody   = 1 << 20
	maxUploadBody = 64 << 20
)

// SessionManager signs users in and out against the hosted auth provider.
type SessionManager interface {
	SignInWithPassword(ctx context.Context, email, password string) (domain.Session, error)
	SignOut(ctx context.Context) error
}

type Handlers struct {
	Imports *app.ImportService
	Queries *app.QueryService
	Filters *store.FiltersStore
	Dates   *store.DateFilterStore
	Slot    *pending.Slot
	Resumer *pending.Resumer
	Bus     events.Publisher
	Routes  routing.Config

	// nil when no hosted auth/functions are configured
	Watcher   *auth.Watcher
	Auth      domain.AuthProvider
	Sessions  SessionManager
	Functions domain.FunctionsClient
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Route("/v1", func(r chi.Router) {
		r.With(Timeout(uploadTimeout)).Post("/uploads", h.upload)

		r.Group(func(r chi.Router) {
			r.Use(Timeout(apiTimeout))

			r.Get("/reviews", h.listReviews)
			r.Get("/reviews/summary", h.summary)
			r.Delete("/reviews", h.clearReviews)

			r.Get("/filters", h.getFilters)
			r.Patch("/filters", h.patchFilters)
			r.Delete("/filters", h.clearFilters)
			r.Get("/date-filter", h.getDateFilter)
			r.Patch("/date-filter", h.patchDateFilter)

			r.Post("/pending-action", h.savePending)
			r.Post("/pending-action/resume", h.resumePending)

			r.Get("/session", h.getSession)
			r.Post("/session", h.signIn)
			r.Delete("/session", h.signOut)
			r.Get("/redirect", h.redirect)

			r.Get("/places/autocomplete", h.autocomplete)
			r.Get("/places/by-url", h.placeByURL)
			r.Post("/places/save", h.savePlace)
		})
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// writeUpstream maps a hosted-call failure onto a problem response.
func writeUpstream(w http.ResponseWriter, err error) {
	var fe *functions.Error
	switch {
	case errors.Is(err, domain.ErrNoSession):
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "sign in first")
	case errors.As(err, &fe) && fe.Status == http.StatusNotFound:
		writeProblem(w, http.StatusNotFound, "Not Found", fe.Message)
	case errors.As(err, &fe) && fe.Status < 500:
		writeProblem(w, http.StatusUnprocessableEntity, "Upstream Rejected", fe.Message)
	case errors.As(err, &fe):
		writeProblem(w, http.StatusBadGateway, "Upstream Error", fe.Message)
	default:
		writeProblem(w, http.StatusBadGateway, "Upstream Error", err.Error())
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeCached(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write body")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return false
	}
	return true
}

// ---- uploads ----

// uploadFile accepts either a multipart "file" field or a raw text/csv body.
// A nil reader means no file was sent.
func uploadFile(r *http.Request) (io.Reader, string, func(), error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mt == "multipart/form-data" {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, "", func() {}, err
		}
		f, hdr, err := r.FormFile("file")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", func() {}, nil
		}
		if err != nil {
			return nil, "", func() {}, err
		}
		return f, hdr.Filename, func() { _ = f.Close() }, nil
	}
	if r.ContentLength == 0 {
		return nil, "", func() {}, nil
	}
	return r.Body, r.URL.Query().Get("name"), func() {}, nil
}

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
	file, name, done, err := uploadFile(r)
	defer done()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Upload", err.Error())
		return
	}

	var opt app.ImportOptions
	if p := r.FormValue("platform"); p != "" {
		pl, ok := domain.ParsePlatform(p)
		if !ok {
			writeProblem(w, http.StatusBadRequest, "Invalid platform", "platform must be google, tripadvisor or booking")
			return
		}
		opt.Platform = pl
	}
	opt.Append, _ = strconv.ParseBool(r.FormValue("append"))

	// a missing file still goes through the worker, which reports it
	res, err := h.Imports.Import(r.Context(), ingest.Request{File: file, Name: name}, opt)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, res)
	case errors.Is(err, app.ErrParse) && file == nil:
		writeProblem(w, http.StatusBadRequest, "No File", domain.ErrNoFile.Error())
	case errors.Is(err, app.ErrParse):
		writeProblem(w, http.StatusUnprocessableEntity, "Invalid CSV", err.Error())
	default:
		log.Error().Err(err).Msg("import failed")
		writeProblem(w, http.StatusInternalServerError, "Import Failed", "could not store reviews")
	}
}

// ---- reviews ----

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if ls := r.URL.Query().Get("limit"); ls != "" {
		l, err := strconv.Atoi(ls)
		if err != nil || l <= 0 || l > 500 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 500")
			return
		}
		limit = l
	}
	writeCached(w, r, map[string]any{"reviews": h.Queries.ListReviews(limit)})
}

func (h *Handlers) summary(w http.ResponseWriter, r *http.Request) {
	writeCached(w, r, h.Queries.Summary())
}

func (h *Handlers) clearReviews(w http.ResponseWriter, r *http.Request) {
	if err := h.Imports.ClearReviews(r.Context()); err != nil {
		log.Error().Err(err).Msg("clear reviews failed")
		writeProblem(w, http.StatusInternalServerError, "Clear Failed", "could not clear reviews")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- filters ----

func (h *Handlers) getFilters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Filters.Get())
}

func (h *Handlers) patchFilters(w http.ResponseWriter, r *http.Request) {
	var p domain.ReviewFiltersPatch
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.Sentiment != nil && *p.Sentiment != domain.SentimentAll {
		sv, ok := domain.ParseSentiment(*p.Sentiment)
		if !ok {
			writeProblem(w, http.StatusBadRequest, "Invalid sentiment", "sentiment must be all, positive, neutral or negative")
			return
		}
		norm := string(sv)
		p.Sentiment = &norm
	}
	if p.Platforms != nil {
		pls := make([]domain.Platform, 0, len(*p.Platforms))
		for _, raw := range *p.Platforms {
			pl, ok := domain.ParsePlatform(string(raw))
			if !ok {
				writeProblem(w, http.StatusBadRequest, "Invalid platform", string(raw))
				return
			}
			pls = append(pls, pl)
		}
		p.Platforms = &pls
	}
	// a failed write keeps the in-memory state; report it but return the state
	if err := h.Filters.Set(r.Context(), p); err != nil {
		log.Warn().Err(err).Msg("persist review filters failed")
	}
	writeJSON(w, http.StatusOK, h.Filters.Get())
}

func (h *Handlers) clearFilters(w http.ResponseWriter, r *http.Request) {
	if err := h.Filters.Clear(r.Context()); err != nil {
		log.Warn().Err(err).Msg("persist review filters failed")
	}
	writeJSON(w, http.StatusOK, h.Filters.Get())
}

func (h *Handlers) getDateFilter(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Dates.Get())
}

func (h *Handlers) patchDateFilter(w http.ResponseWriter, r *http.Request) {
	var p domain.DateFilterPatch
	if !decodeJSON(w, r, &p) {
		return
	}
	var err error
	if p.Preset != nil && p.Start == nil && p.End == nil {
		err = h.Dates.SelectPreset(r.Context(), *p.Preset)
	} else {
		err = h.Dates.Set(r.Context(), p)
	}
	if err != nil {
		log.Warn().Err(err).Msg("persist date filter failed")
	}
	writeJSON(w, http.StatusOK, h.Dates.Get())
}

// ---- pending actions ----

func (h *Handlers) savePending(w http.ResponseWriter, r *http.Request) {
	var a domain.PendingAction
	if !decodeJSON(w, r, &a) {
		return
	}
	if a.Type == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid action", "type is required")
		return
	}
	if err := h.Slot.Save(r.Context(), a); err != nil {
		log.Error().Err(err).Msg("save pending action failed")
		writeProblem(w, http.StatusInternalServerError, "Save Failed", "could not save pending action")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resumeResponse struct {
	pending.Result
	Error string `json:"error,omitempty"`
}

func (h *Handlers) resumePending(w http.ResponseWriter, r *http.Request) {
	res := h.Resumer.Resume(r.Context())
	out := resumeResponse{Result: res}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- session ----

type sessionResponse struct {
	State   auth.State   `json:"state"`
	Loading bool         `json:"loading"`
	User    *domain.User `json:"user,omitempty"`
}

func (h *Handlers) getSession(w http.ResponseWriter, r *http.Request) {
	if h.Watcher == nil {
		writeJSON(w, http.StatusOK, sessionResponse{State: auth.StateUnauthenticated})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{State: h.Watcher.State(), Loading: h.Watcher.Loading(), User: h.Watcher.User()})
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInResponse struct {
	User   domain.User     `json:"user"`
	Resume *pending.Result `json:"resume,omitempty"`
}

// signIn authenticates and then replays any action saved before the auth detour.
func (h *Handlers) signIn(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Auth Disabled", "hosted auth is not configured")
		return
	}
	var in signInRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.Email == "" || in.Password == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid credentials", "email and password are required")
		return
	}
	s, err := h.Sessions.SignInWithPassword(r.Context(), in.Email, in.Password)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "Sign-in Failed", err.Error())
		return
	}
	out := signInResponse{User: s.User}
	if res := h.Resumer.Resume(r.Context()); res.Outcome != pending.NoPending {
		out.Resume = &res
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) signOut(w http.ResponseWriter, r *http.Request) {
	if h.Sessions == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.Sessions.SignOut(r.Context()); err != nil {
		writeProblem(w, http.StatusBadGateway, "Sign-out Failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) redirect(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	out := map[string]string{"surface": string(surfaceFrom(r.Context()))}
	if h.Watcher != nil {
		if to, ok := h.Watcher.RedirectFor(path); ok {
			out["to"] = to
		}
	} else if routing.IsProtected(path) {
		out["to"] = h.Routes.SignInURL(path)
	}
	writeJSON(w, http.StatusOK, out)
}

// ---- places ----

func (h *Handlers) autocomplete(w http.ResponseWriter, r *http.Request) {
	if h.Functions == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Functions Disabled", "hosted functions are not configured")
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if len(q) < 2 {
		writeJSON(w, http.StatusOK, map[string]any{"predictions": []domain.PlacePreview{}})
		return
	}
	out, err := h.Functions.PlacesAutocomplete(r.Context(), q)
	if err != nil {
		writeUpstream(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"predictions": out})
}

func (h *Handlers) placeByURL(w http.ResponseWriter, r *http.Request) {
	if h.Functions == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Functions Disabled", "hosted functions are not configured")
		return
	}
	u := strings.TrimSpace(r.URL.Query().Get("url"))
	if u == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid url", "url is required")
		return
	}
	out, err := h.Functions.PlaceByURL(r.Context(), u)
	if err != nil {
		writeUpstream(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type savePlaceResponse struct {
	Pending bool                 `json:"pending"`
	Saved   *domain.SavedPreview `json:"saved,omitempty"`
}

// savePlace saves right away for signed-in users. Otherwise it parks the
// request in the pending slot and asks the UI to open the auth modal.
func (h *Handlers) savePlace(w http.ResponseWriter, r *http.Request) {
	if h.Functions == nil {
		writeProblem(w, http.StatusServiceUnavailable, "Functions Disabled", "hosted functions are not configured")
		return
	}
	var p domain.PlacePreview
	if !decodeJSON(w, r, &p) {
		return
	}
	if p.PlaceID == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid place", "placeId is required")
		return
	}

	var token string
	if h.Auth != nil {
		if s, err := h.Auth.GetSession(r.Context()); err == nil {
			token = s.AccessToken
		} else if !errors.Is(err, domain.ErrNoSession) {
			writeUpstream(w, err)
			return
		}
	}
	if token != "" {
		saved, err := h.Functions.SavePlacePreview(r.Context(), token, p)
		if err != nil {
			writeUpstream(w, err)
			return
		}
		writeJSON(w, http.StatusOK, savePlaceResponse{Saved: &saved})
		return
	}

	a, err := domain.NewPendingAction(domain.ActionSavePreview, domain.SavePreviewPayload{
		PlaceID: p.PlaceID, Name: p.Name, Platform: p.Platform, URL: p.URL,
	})
	if err == nil {
		err = h.Slot.Save(r.Context(), a)
	}
	if err != nil {
		log.Error().Err(err).Msg("park pending save failed")
		writeProblem(w, http.StatusInternalServerError, "Save Failed", "could not save pending action")
		return
	}
	if err := events.Emit(r.Context(), h.Bus, events.OpenAuthModal, events.OpenAuthModalPayload{Mode: "signin", Reason: string(domain.ActionSavePreview)}); err != nil {
		log.Warn().Err(err).Msg("publish open_modal failed")
	}
	writeJSON(w, http.StatusAccepted, savePlaceResponse{Pending: true})
}
