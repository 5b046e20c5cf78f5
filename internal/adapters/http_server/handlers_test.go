package httpserver_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"padu/internal/adapters/functions"
	server "padu/internal/adapters/http_server"
	"padu/internal/app"
	"padu/internal/auth"
	"padu/internal/domain"
	"padu/internal/events"
	"padu/internal/ingest"
	"padu/internal/kv"
	"padu/internal/pending"
	"padu/internal/routing"
	"padu/internal/store"
)

var fixedNow = func() time.Time { return time.Date(2025, 3, 31, 12, 0, 0, 0, time.UTC) }

// fakeAuth is both the provider and the session manager.
type fakeAuth struct {
	mu      sync.Mutex
	session *domain.Session
	fns     []func(domain.AuthEvent, *domain.Session)
}

func (a *fakeAuth) GetSession(context.Context) (domain.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session == nil {
		return domain.Session{}, domain.ErrNoSession
	}
	return *a.session, nil
}

func (a *fakeAuth) OnAuthStateChange(fn func(domain.AuthEvent, *domain.Session)) func() {
	a.mu.Lock()
	a.fns = append(a.fns, fn)
	a.mu.Unlock()
	return func() {}
}

func (a *fakeAuth) SignInWithPassword(_ context.Context, email, password string) (domain.Session, error) {
	if password != "secret" {
		return domain.Session{}, errors.New("auth: 400 Invalid login credentials")
	}
	s := domain.Session{AccessToken: "tok", User: domain.User{ID: "u1", Email: email}}
	a.mu.Lock()
	a.session = &s
	fns := append([]func(domain.AuthEvent, *domain.Session){}, a.fns...)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(domain.AuthSignedIn, &s)
	}
	return s, nil
}

func (a *fakeAuth) SignOut(context.Context) error {
	a.mu.Lock()
	a.session = nil
	fns := append([]func(domain.AuthEvent, *domain.Session){}, a.fns...)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(domain.AuthSignedOut, nil)
	}
	return nil
}

type fakeFunctions struct {
	mu    sync.Mutex
	saves []string
}

func (f *fakeFunctions) SavePlacePreview(_ context.Context, token string, p domain.PlacePreview) (domain.SavedPreview, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves = append(f.saves, token+":"+p.PlaceID)
	return domain.SavedPreview{ID: "s1", Redirect: "/dashboard/places/s1"}, nil
}

func (f *fakeFunctions) PlacesAutocomplete(_ context.Context, q string) ([]domain.PlacePreview, error) {
	return []domain.PlacePreview{{PlaceID: "p1", Name: "Grand " + q}}, nil
}

func (f *fakeFunctions) PlaceByURL(_ context.Context, u string) (domain.PlacePreview, error) {
	if strings.Contains(u, "missing") {
		return domain.PlacePreview{}, &functions.Error{Function: functions.PlaceByURLFn, Status: 404, Message: "place not found"}
	}
	return domain.PlacePreview{PlaceID: "p9", URL: u}, nil
}

type env struct {
	ts     *httptest.Server
	auth   *fakeAuth
	fn     *fakeFunctions
	events []events.Type
	mu     sync.Mutex
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	m := kv.NewMemory()
	bus := events.NewLocal()
	routes := routing.Config{Env: "dev"}

	reviews := store.OpenReviews(ctx, m, zerolog.Nop())
	filters := store.OpenFilters(ctx, m, fixedNow, zerolog.Nop())
	dates := store.OpenDateFilter(ctx, m, fixedNow, zerolog.Nop())
	fa := &fakeAuth{}
	fn := &fakeFunctions{}
	slot := pending.NewSlot(m)
	watcher := auth.NewWatcher(fa, routes, zerolog.Nop())
	watcher.Start(ctx)
	<-watcher.Ready()

	e := &env{auth: fa, fn: fn}
	for _, typ := range events.Types {
		_, _ = bus.Subscribe(typ, func(ev events.Event) {
			e.mu.Lock()
			e.events = append(e.events, ev.Type)
			e.mu.Unlock()
		})
	}
	stop := app.AnnounceFilterChanges(bus, dates, filters, zerolog.Nop())

	srv := server.New(routes)
	srv.MountHandlers(&server.Handlers{
		Imports:   app.NewImportService(ingest.New(3, 0, zerolog.Nop()), reviews, bus, zerolog.Nop()),
		Queries:   app.NewQueryService(reviews, filters),
		Filters:   filters,
		Dates:     dates,
		Slot:      slot,
		Resumer:   pending.NewResumer(slot, fa, fn, nil, routes, zerolog.Nop()),
		Bus:       bus,
		Routes:    routes,
		Watcher:   watcher,
		Auth:      fa,
		Sessions:  fa,
		Functions: fn,
	})
	e.ts = httptest.NewServer(srv.Mux())
	t.Cleanup(func() {
		e.ts.Close()
		stop()
		watcher.Close()
		_ = bus.Close()
	})
	return e
}

func (e *env) seen(typ events.Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, t := range e.events {
		if t == typ {
			n++
		}
	}
	return n
}

func (e *env) do(t *testing.T, method, path, contentType string, body []byte, out any) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp
}

func multipartCSV(t *testing.T, name, content string, fields map[string]string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		_, _ = fw.Write([]byte(content))
	}
	_ = mw.Close()
	return buf.Bytes(), mw.FormDataContentType()
}

const sampleCSV = "date,platform,rating,review\n" +
	"2025-03-30,google,5,Lovely pool\n" +
	"2025-03-29,booking,2,Noisy room\n" +
	"\n" +
	"2025-03-28,tripadvisor,4,Nice staff\n" +
	"2025-03-27,google,3,ok\n"

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", "", nil, nil)
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestUpload_MultipartThenList(t *testing.T) {
	e := newEnv(t)
	body, ct := multipartCSV(t, "reviews.csv", sampleCSV, nil)

	var res app.ImportResult
	resp := e.do(t, http.MethodPost, "/v1/uploads", ct, body, &res)
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}
	// preview limit is 3 in this env
	if res.Total != 4 || res.Imported != 3 || res.Truncated != 1 || len(res.Headers) != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if e.seen(events.ReviewsUpdated) != 1 {
		t.Fatalf("reviews.updated not published")
	}

	var list struct {
		Reviews []domain.ReviewRow `json:"reviews"`
	}
	resp = e.do(t, http.MethodGet, "/v1/reviews", "", nil, &list)
	if resp.StatusCode != 200 || len(list.Reviews) != 3 || list.Reviews[0].Text != "Lovely pool" {
		t.Fatalf("list = %+v", list)
	}
	etag := resp.Header.Get("ETag")
	req, _ := http.NewRequest(http.MethodGet, e.ts.URL+"/v1/reviews", nil)
	req.Header.Set("If-None-Match", etag)
	r2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	r2.Body.Close()
	if r2.StatusCode != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", r2.StatusCode)
	}
}

func TestUpload_RawBodyWithPlatform(t *testing.T) {
	e := newEnv(t)
	var res app.ImportResult
	resp := e.do(t, http.MethodPost, "/v1/uploads?platform=booking.com&name=b.csv", "text/csv", []byte("rating,text\n5,great\n"), &res)
	if resp.StatusCode != 200 || res.Imported != 1 || res.Rows[0].Platform != domain.PlatformBooking {
		t.Fatalf("status %d result %+v", resp.StatusCode, res)
	}
}

func TestUpload_Errors(t *testing.T) {
	e := newEnv(t)

	body, ct := multipartCSV(t, "", "", map[string]string{"platform": "google"})
	var p struct {
		Status int    `json:"status"`
		Detail string `json:"detail"`
	}
	resp := e.do(t, http.MethodPost, "/v1/uploads", ct, body, &p)
	if resp.StatusCode != 400 || p.Detail != "no file provided" {
		t.Fatalf("missing file: %d %+v", resp.StatusCode, p)
	}

	body, ct = multipartCSV(t, "bad.csv", "a,b\n\"oops,1\n", nil)
	resp = e.do(t, http.MethodPost, "/v1/uploads", ct, body, nil)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("malformed csv: %d", resp.StatusCode)
	}

	resp = e.do(t, http.MethodPost, "/v1/uploads?platform=yelp", "text/csv", []byte("a\n1\n"), nil)
	if resp.StatusCode != 400 {
		t.Fatalf("bad platform: %d", resp.StatusCode)
	}
}

func TestFilters_PatchMergesAndAnnounces(t *testing.T) {
	e := newEnv(t)

	var st domain.ReviewFiltersState
	e.do(t, http.MethodPatch, "/v1/filters", "application/json", []byte(`{"platforms":["google"],"topics":["pool"]}`), &st)
	e.do(t, http.MethodPatch, "/v1/filters", "application/json", []byte(`{"sentiment":"positive"}`), &st)
	e.do(t, http.MethodPatch, "/v1/filters", "application/json", []byte(`{"sentiment":"positive"}`), &st)
	if st.Sentiment != "positive" || len(st.Platforms) != 1 || len(st.Topics) != 1 || st.DatePreset != domain.Preset30d {
		t.Fatalf("state = %+v", st)
	}
	if n := e.seen(events.FiltersChanged); n != 3 {
		t.Fatalf("filters.changed published %d times", n)
	}

	resp := e.do(t, http.MethodPatch, "/v1/filters", "application/json", []byte(`{"sentiment":"angry"}`), nil)
	if resp.StatusCode != 400 {
		t.Fatalf("bad sentiment: %d", resp.StatusCode)
	}
	resp = e.do(t, http.MethodPatch, "/v1/filters", "application/json", []byte(`{"colour":"red"}`), nil)
	if resp.StatusCode != 400 {
		t.Fatalf("unknown field: %d", resp.StatusCode)
	}

	e.do(t, http.MethodDelete, "/v1/filters", "", nil, &st)
	if st.Sentiment != domain.SentimentAll || len(st.Platforms) != 0 {
		t.Fatalf("clear = %+v", st)
	}
}

func TestDateFilter_PresetRecomputesRange(t *testing.T) {
	e := newEnv(t)
	var st domain.DateFilterState
	e.do(t, http.MethodGet, "/v1/date-filter", "", nil, &st)
	if st.Preset != domain.Preset30d || st.Start != "2025-03-02" || st.End != "2025-03-31" {
		t.Fatalf("default = %+v", st)
	}
	e.do(t, http.MethodPatch, "/v1/date-filter", "application/json", []byte(`{"preset":"7d"}`), &st)
	if st.Start != "2025-03-25" {
		t.Fatalf("7d = %+v", st)
	}
	e.do(t, http.MethodPatch, "/v1/date-filter", "application/json", []byte(`{"preset":"custom","start":"2025-01-01","end":"2025-01-31"}`), &st)
	if st.Preset != domain.PresetCustom || st.Start != "2025-01-01" || st.End != "2025-01-31" {
		t.Fatalf("custom = %+v", st)
	}
}

func TestSavePlace_SignedOutParksThenResumesOnSignIn(t *testing.T) {
	e := newEnv(t)

	var saved struct {
		Pending bool `json:"pending"`
	}
	resp := e.do(t, http.MethodPost, "/v1/places/save", "application/json", []byte(`{"placeId":"p1","name":"Grand"}`), &saved)
	if resp.StatusCode != http.StatusAccepted || !saved.Pending {
		t.Fatalf("signed out save: %d %+v", resp.StatusCode, saved)
	}
	if e.seen(events.OpenAuthModal) != 1 {
		t.Fatalf("auth modal not requested")
	}

	var redirect map[string]string
	e.do(t, http.MethodGet, "/v1/redirect?path=/dashboard", "", nil, &redirect)
	if redirect["to"] != "/signin?next=%2Fdashboard" {
		t.Fatalf("redirect = %v", redirect)
	}

	var in struct {
		User   domain.User `json:"user"`
		Resume *struct {
			Outcome string `json:"outcome"`
			To      string `json:"to"`
		} `json:"resume"`
	}
	resp = e.do(t, http.MethodPost, "/v1/session", "application/json", []byte(`{"email":"ana@example.com","password":"secret"}`), &in)
	if resp.StatusCode != 200 || in.Resume == nil || in.Resume.Outcome != "resumed" || in.Resume.To != "/dashboard/places/s1" {
		t.Fatalf("sign in: %d %+v", resp.StatusCode, in)
	}
	if len(e.fn.saves) != 1 || e.fn.saves[0] != "tok:p1" {
		t.Fatalf("saves = %v", e.fn.saves)
	}

	var sess struct {
		State string       `json:"state"`
		User  *domain.User `json:"user"`
	}
	e.do(t, http.MethodGet, "/v1/session", "", nil, &sess)
	if sess.State != string(auth.StateAuthenticated) || sess.User == nil || sess.User.Email != "ana@example.com" {
		t.Fatalf("session = %+v", sess)
	}

	var out map[string]any
	e.do(t, http.MethodPost, "/v1/pending-action/resume", "", nil, &out)
	if out["outcome"] != "no_pending" {
		t.Fatalf("slot should be empty, got %v", out)
	}

	// signed in now: saves immediately
	resp = e.do(t, http.MethodPost, "/v1/places/save", "application/json", []byte(`{"placeId":"p2"}`), nil)
	if resp.StatusCode != 200 || len(e.fn.saves) != 2 {
		t.Fatalf("signed in save: %d %v", resp.StatusCode, e.fn.saves)
	}

	resp = e.do(t, http.MethodDelete, "/v1/session", "", nil, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("sign out: %d", resp.StatusCode)
	}
	e.do(t, http.MethodGet, "/v1/session", "", nil, &sess)
	if sess.State != string(auth.StateUnauthenticated) {
		t.Fatalf("after sign out = %+v", sess)
	}
}

func TestSignIn_BadCredentials(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/v1/session", "application/json", []byte(`{"email":"a@b.c","password":"nope"}`), nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
}

func TestPendingAction_UnknownTypeIsCleared(t *testing.T) {
	e := newEnv(t)
	resp := e.do(t, http.MethodPost, "/v1/pending-action", "application/json", []byte(`{"type":"launchRocket"}`), nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("save: %d", resp.StatusCode)
	}
	var out map[string]any
	e.do(t, http.MethodPost, "/v1/pending-action/resume", "", nil, &out)
	if out["outcome"] != "unrecognized" {
		t.Fatalf("resume = %v", out)
	}
	e.do(t, http.MethodPost, "/v1/pending-action/resume", "", nil, &out)
	if out["outcome"] != "no_pending" {
		t.Fatalf("second resume = %v", out)
	}
}

func TestPlaces(t *testing.T) {
	e := newEnv(t)
	var ac struct {
		Predictions []domain.PlacePreview `json:"predictions"`
	}
	e.do(t, http.MethodGet, "/v1/places/autocomplete?q=inn", "", nil, &ac)
	if len(ac.Predictions) != 1 || ac.Predictions[0].Name != "Grand inn" {
		t.Fatalf("autocomplete = %+v", ac)
	}
	e.do(t, http.MethodGet, "/v1/places/autocomplete?q=i", "", nil, &ac)
	if len(ac.Predictions) != 0 {
		t.Fatalf("short query should not hit upstream: %+v", ac)
	}

	resp := e.do(t, http.MethodGet, "/v1/places/by-url?url=https://maps.example/missing", "", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing place: %d", resp.StatusCode)
	}
	var p domain.PlacePreview
	resp = e.do(t, http.MethodGet, "/v1/places/by-url?url=https://maps.example/x", "", nil, &p)
	if resp.StatusCode != 200 || p.PlaceID != "p9" {
		t.Fatalf("by url: %d %+v", resp.StatusCode, p)
	}
}

func TestSurfaceHeader(t *testing.T) {
	e := newEnv(t)
	for path, want := range map[string]routing.Surface{
		"/healthz":                     routing.SurfaceMarketing,
		"/v1/filters":                  routing.SurfaceMarketing,
		"/healthz?subdomain=dashboard": routing.SurfaceDashboard,
	} {
		resp := e.do(t, http.MethodGet, path, "", nil, nil)
		if got := resp.Header.Get("X-Padu-Surface"); got != string(want) {
			t.Errorf("%s: surface %q, want %q", path, got, want)
		}
	}
}
