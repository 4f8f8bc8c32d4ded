package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"quell/internal/limiter/models"
)

type fakeTarget struct {
	kind     models.LimiterKind
	limit    int
	snapshot Snapshot
	known    map[string]bool
	resets   []string
}

func (f *fakeTarget) Kind() models.LimiterKind { return f.kind }
func (f *fakeTarget) Limit() int               { return f.limit }

func (f *fakeTarget) Reset(_ context.Context, key string) {
	f.resets = append(f.resets, key)
}

func (f *fakeTarget) Snapshot(_ context.Context, key string) (Snapshot, bool) {
	if !f.known[key] {
		return Snapshot{}, false
	}
	return f.snapshot, true
}

type HandlerSuite struct {
	suite.Suite
	window *fakeTarget
	bucket *fakeTarget
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.window = &fakeTarget{
		kind:     models.KindSlidingWindow,
		limit:    100,
		snapshot: Snapshot{Count: 42, Remaining: 58},
		known:    map[string]bool{"ip:203.0.113.9:auth": true},
	}
	s.bucket = &fakeTarget{
		kind:     models.KindTokenBucket,
		limit:    10,
		snapshot: Snapshot{Tokens: 3.5, Remaining: 3},
		known:    map[string]bool{"user:alice": true},
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(logger)
	h.Add("anonymous", s.window)
	h.Add("tier:standard", s.bucket)

	s.router = chi.NewRouter()
	h.RegisterAdmin(s.router)
}

func (s *HandlerSuite) TestListLimiters() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rate-limit/limiters", nil))

	s.Equal(http.StatusOK, rec.Code)

	var infos []LimiterInfo
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &infos))
	s.Len(infos, 2)

	byName := map[string]LimiterInfo{}
	for _, info := range infos {
		byName[info.Name] = info
	}
	s.Equal("sliding_window", byName["anonymous"].Strategy)
	s.Equal(100, byName["anonymous"].Limit)
	s.Equal("token_bucket", byName["tier:standard"].Strategy)
	s.Equal(10, byName["tier:standard"].Limit)
}

func (s *HandlerSuite) TestGetKeyState_Window() {
	target := "/admin/rate-limit/limiters/anonymous/key?key=" + url.QueryEscape("ip:203.0.113.9:auth")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	s.Equal(http.StatusOK, rec.Code)

	var state KeyStateResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &state))
	s.Equal("anonymous", state.Limiter)
	s.Equal("sliding_window", state.Strategy)
	s.Equal("ip:203.0.113.9:auth", state.Key)
	s.Equal(100, state.Limit)
	s.Equal(42, state.Count)
	s.Equal(58, state.Remaining)
}

func (s *HandlerSuite) TestGetKeyState_Bucket() {
	target := "/admin/rate-limit/limiters/tier:standard/key?key=" + url.QueryEscape("user:alice")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	s.Equal(http.StatusOK, rec.Code)

	var state KeyStateResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &state))
	s.InDelta(3.5, state.Tokens, 0.001)
	s.Equal(3, state.Remaining)
}

func (s *HandlerSuite) TestGetKeyState_UnknownKey() {
	target := "/admin/rate-limit/limiters/anonymous/key?key=" + url.QueryEscape("ip:198.51.100.1:auth")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestGetKeyState_UnknownLimiter() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rate-limit/limiters/leaky/key?key=x", nil))

	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestGetKeyState_MissingKey() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/rate-limit/limiters/anonymous/key", nil))

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestReset() {
	body := `{"limiter":"tier:standard","key":"user:alice"}`
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rate-limit/reset", strings.NewReader(body)))

	s.Equal(http.StatusNoContent, rec.Code)
	s.Equal([]string{"user:alice"}, s.bucket.resets)
	s.Empty(s.window.resets)
}

func (s *HandlerSuite) TestReset_InvalidJSON() {
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rate-limit/reset", strings.NewReader("{not json")))

	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestReset_UnknownLimiter() {
	body := `{"limiter":"fixed_window","key":"user:alice"}`
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rate-limit/reset", strings.NewReader(body)))

	s.Equal(http.StatusNotFound, rec.Code)
}

func (s *HandlerSuite) TestReset_MissingKey() {
	body := `{"limiter":"anonymous"}`
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/rate-limit/reset", strings.NewReader(body)))

	s.Equal(http.StatusBadRequest, rec.Code)
	s.Empty(s.window.resets)
}
