package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticket-manager/internal/auth"
	"ticket-manager/internal/repository/sqlite"
	"ticket-manager/internal/service"
)

type testServer struct {
	router  *gin.Engine
	handler *Handler
	users   *sqlite.UserRepository
	tokens  *auth.TokenIssuer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "tickets.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := sqlite.NewUserRepository(db)
	require.NoError(t, users.Init(context.Background()))

	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour, "ticket-manager")
	require.NoError(t, err)

	logger, _ := logtest.NewNullLogger()
	svc := service.NewUserService(users, auth.PlainHasher{}, tokens, logger)
	handler := NewHandler(svc, tokens, users, []string{"*"}, logger)

	router := gin.New()
	handler.RegisterRoutes(router)
	return &testServer{router: router, handler: handler, users: users, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func TestRegisterAndLoginScenario(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/users", credentials{"guy", "123456"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	stored, err := s.users.GetByUsername(context.Background(), "guy")
	require.NoError(t, err)
	assert.Equal(t, "123456", stored.Password)

	rec = s.do(t, http.MethodPost, "/api/users", credentials{"guy", "123456"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/login", credentials{"guy", "other"}, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/login", credentials{"guy", "123456"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	guyToken, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, guyToken)

	rec = s.do(t, http.MethodPost, "/api/users", credentials{"guy55", "123456"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/login", credentials{"guy55", "123456"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	otherToken, _ := decode(t, rec)["token"].(string)
	require.NotEmpty(t, otherToken)
	assert.NotEqual(t, guyToken, otherToken)

	a, err := s.tokens.Verify(guyToken)
	require.NoError(t, err)
	b, err := s.tokens.Verify(otherToken)
	require.NoError(t, err)
	assert.Equal(t, "guy", a.Username)
	assert.Equal(t, "guy55", b.Username)

	reg := s.handler.metrics.registrations
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.WithLabelValues(resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(reg.WithLabelValues(resultConflict)))
	logins := s.handler.metrics.logins
	assert.Equal(t, 2.0, testutil.ToFloat64(logins.WithLabelValues(resultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(logins.WithLabelValues(resultFailed)))
}

func TestLoginFailuresLookIdentical(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/users", credentials{"guy", "123456"}, nil).Code)

	wrongPassword := s.do(t, http.MethodPost, "/api/login", credentials{"guy", "other"}, nil)
	unknownUser := s.do(t, http.MethodPost, "/api/login", credentials{"nobody", "123456"}, nil)

	assert.Equal(t, http.StatusInternalServerError, wrongPassword.Code)
	assert.Equal(t, wrongPassword.Code, unknownUser.Code)
	assert.Equal(t, wrongPassword.Body.String(), unknownUser.Body.String())
}

func TestMalformedRequests(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		path string
		body any
	}{
		{name: "register invalid json", path: "/api/users", body: "{not json"},
		{name: "register missing password", path: "/api/users", body: map[string]string{"username": "guy"}},
		{name: "register empty username", path: "/api/users", body: credentials{"", "123456"}},
		{name: "register blank username", path: "/api/users", body: credentials{"   ", "123456"}},
		{name: "login missing username", path: "/api/login", body: map[string]string{"password": "123456"}},
		{name: "login wrong types", path: "/api/login", body: `{"username": 5, "password": true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec), "error")
		})
	}

	_, err := s.users.GetByUsername(context.Background(), "guy")
	assert.Error(t, err, "no malformed request may create a user")
}

func TestMeRequiresValidToken(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/users", credentials{"guy", "123456"}, nil).Code)

	rec := s.do(t, http.MethodPost, "/api/login", credentials{"guy", "123456"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	token := decode(t, rec)["token"].(string)

	rec = s.do(t, http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "guy", body["username"])
	assert.NotContains(t, body, "password")

	for name, header := range map[string]string{
		"missing":      "",
		"wrong scheme": "Basic " + token,
		"empty token":  "Bearer ",
		"garbage":      "Bearer nope",
	} {
		t.Run(name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/me", nil, map[string]string{"Authorization": header})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestMeWithTokenForMissingUser(t *testing.T) {
	s := newTestServer(t)
	token, err := s.tokens.Issue(auth.Identity{UserID: 999, Username: "ghost"})
	require.NoError(t, err)

	rec := s.do(t, http.MethodGet, "/api/me", nil, map[string]string{"Authorization": "Bearer " + token.Value})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type brokenStore struct{}

func (brokenStore) Ping(context.Context) error { return errors.New("database is locked") }

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["ok"])

	gin.SetMode(gin.TestMode)
	logger, _ := logtest.NewNullLogger()
	h := NewHandler(nil, nil, brokenStore{}, nil, logger)
	router := gin.New()
	h.RegisterRoutes(router)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/users", credentials{"guy", "123456"}, nil)

	rec := s.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	out := rec.Body.String()
	assert.True(t, strings.Contains(out, `tickets_auth_registrations_total{result="ok"} 1`), out)
	assert.Contains(t, out, `tickets_http_requests_total{method="POST",route="/api/users",status="200"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodOptions, "/api/login", nil, map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Bearer abc", want: "abc"},
		{header: "bearer abc", want: "abc"},
		{header: "  Bearer   abc  ", want: "abc"},
		{header: "", wantErr: true},
		{header: "Bearer", wantErr: true},
		{header: "Token abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
