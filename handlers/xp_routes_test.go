package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"imi-student-dashboard/middleware"
	"imi-student-dashboard/models"
	"imi-student-dashboard/services"
	"imi-student-dashboard/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	serviceToken = "svc-token"
	jwtSecret    = "jwt-secret"
)

func newTestApp(t *testing.T) (*fiber.App, *gorm.DB) {
	t.Helper()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ledger := services.NewLedgerService(db, log)

	app := NewApp(AppDeps{
		Ledger:       ledger,
		Statements:   services.NewStatementService(ledger, nil, log),
		Settings:     services.NewSettingsService(db, nil, log),
		ServiceToken: serviceToken,
		UserAuth: middleware.UserAuthConfig{
			JWTSecret: jwtSecret,
			DevMode:   true,
		},
		AllowedOrigins: "http://localhost:3000",
		Log:            log,
	})
	return app, db
}

func studentToken(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)
	return s
}

type call struct {
	method string
	path   string
	body   string
	// exactly one of these authenticates the call
	service bool
	devUser string
	token   string
}

func send(t *testing.T, app *fiber.App, c call) (int, []byte) {
	t.Helper()
	var body io.Reader
	if c.body != "" {
		body = strings.NewReader(c.body)
	}
	req := httptest.NewRequest(c.method, c.path, body)
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.service:
		req.Header.Set("Authorization", "Bearer "+serviceToken)
	case c.devUser != "":
		req.Header.Set(middleware.DevUserHeader, c.devUser)
	case c.token != "":
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func decode[T any](t *testing.T, raw []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func TestApplyXPEndpoint(t *testing.T) {
	app, db := newTestApp(t)
	testutil.Balance(t, db, "u1")

	code, raw := send(t, app, call{method: "POST", path: "/s/xp/transactions", service: true,
		body: `{"userId":"u1","xpAmount":2600,"source":"blueprint","sourceId":42,"description":"Blueprint 3","submissionDate":"2024-01-10"}`})
	require.Equal(t, http.StatusOK, code, string(raw))

	summary := decode[services.XPSummary](t, raw)
	assert.Equal(t, services.XPSummary{CurrentXP: 2600, LifetimeXP: 2600, CurrentStreak: 1, CurrentTier: models.TierSilver}, summary)

	var row models.XPTransaction
	require.NoError(t, db.Where("user_id = ?", "u1").First(&row).Error)
	assert.Equal(t, "42", row.SourceID)
	assert.Equal(t, "Blueprint 3", row.Description)

	code, raw = send(t, app, call{method: "POST", path: "/s/xp/transactions", service: true,
		body: `{"userId":"u1","xpAmount":-600,"source":"reward_redemption","sourceId":"r-9"}`})
	require.Equal(t, http.StatusOK, code, string(raw))
	summary = decode[services.XPSummary](t, raw)
	assert.Equal(t, int64(2000), summary.CurrentXP)
	assert.Equal(t, int64(600), summary.XPSpent)
	assert.Equal(t, models.TierSilver, summary.CurrentTier)
}

func TestApplyXPEndpointErrors(t *testing.T) {
	app, db := newTestApp(t)
	testutil.Balance(t, db, "u1")

	tests := []struct {
		name string
		call call
		want int
	}{
		{"unknown user", call{method: "POST", path: "/s/xp/transactions", service: true, body: `{"userId":"ghost","xpAmount":10,"source":"event"}`}, http.StatusNotFound},
		{"missing amount", call{method: "POST", path: "/s/xp/transactions", service: true, body: `{"userId":"u1","source":"event"}`}, http.StatusBadRequest},
		{"zero amount", call{method: "POST", path: "/s/xp/transactions", service: true, body: `{"userId":"u1","xpAmount":0,"source":"event"}`}, http.StatusBadRequest},
		{"missing source", call{method: "POST", path: "/s/xp/transactions", service: true, body: `{"userId":"u1","xpAmount":5}`}, http.StatusBadRequest},
		{"missing user", call{method: "POST", path: "/s/xp/transactions", service: true, body: `{"xpAmount":5,"source":"event"}`}, http.StatusBadRequest},
		{"object source id", call{method: "POST", path: "/s/xp/transactions", service: true, body: `{"userId":"u1","xpAmount":5,"source":"event","sourceId":{"a":1}}`}, http.StatusBadRequest},
		{"bad date", call{method: "POST", path: "/s/xp/transactions", service: true, body: `{"userId":"u1","xpAmount":5,"source":"event","submissionDate":"10/01/2024"}`}, http.StatusBadRequest},
		{"malformed json", call{method: "POST", path: "/s/xp/transactions", service: true, body: `{"userId":`}, http.StatusBadRequest},
		{"no service token", call{method: "POST", path: "/s/xp/transactions", body: `{"userId":"u1","xpAmount":5,"source":"event"}`}, http.StatusUnauthorized},
		{"student token on service route", call{method: "POST", path: "/s/xp/transactions", token: studentToken(t, "u1"), body: `{"userId":"u1","xpAmount":5,"source":"event"}`}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, raw := send(t, app, tt.call)
			assert.Equal(t, tt.want, code, string(raw))
		})
	}

	var n int64
	require.NoError(t, db.Model(&models.XPTransaction{}).Count(&n).Error)
	assert.Zero(t, n, "rejected requests write nothing")
}

func TestProvisionEndpoints(t *testing.T) {
	app, _ := newTestApp(t)

	code, _ := send(t, app, call{method: "POST", path: "/s/xp/balances/u1", service: true})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = send(t, app, call{method: "POST", path: "/s/xp/balances/u1", service: true})
	assert.Equal(t, http.StatusConflict, code)

	code, _ = send(t, app, call{method: "POST", path: "/user/xp/provision", devUser: "u2"})
	assert.Equal(t, http.StatusCreated, code)

	code, _ = send(t, app, call{method: "POST", path: "/user/xp/provision", devUser: "u2"})
	assert.Equal(t, http.StatusOK, code)

	code, raw := send(t, app, call{method: "GET", path: "/s/xp/audit/u1", service: true})
	require.Equal(t, http.StatusOK, code)
	report := decode[services.AuditReport](t, raw)
	assert.True(t, report.Consistent)

	code, _ = send(t, app, call{method: "GET", path: "/s/xp/audit/ghost", service: true})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStudentXPEndpoints(t *testing.T) {
	app, db := newTestApp(t)
	testutil.Balance(t, db, "u1")
	testutil.Balance(t, db, "u2")

	for _, body := range []string{
		`{"userId":"u1","xpAmount":100,"source":"event"}`,
		`{"userId":"u1","xpAmount":200,"source":"event"}`,
		`{"userId":"u2","xpAmount":5000,"source":"event"}`,
	} {
		code, raw := send(t, app, call{method: "POST", path: "/s/xp/transactions", service: true, body: body})
		require.Equal(t, http.StatusOK, code, string(raw))
	}

	code, raw := send(t, app, call{method: "GET", path: "/user/xp", token: studentToken(t, "u1")})
	require.Equal(t, http.StatusOK, code, string(raw))
	view := decode[map[string]any](t, raw)
	assert.Equal(t, float64(300), view["currentXP"])
	assert.Equal(t, "Bronze", view["tierName"])
	assert.Equal(t, "silver", view["nextTier"])
	assert.Equal(t, float64(2200), view["xpToNextTier"])

	code, raw = send(t, app, call{method: "GET", path: "/user/xp/transactions?page=1&size=1", devUser: "u1"})
	require.Equal(t, http.StatusOK, code)
	page := decode[services.TransactionPage](t, raw)
	assert.Equal(t, int64(2), page.TotalItems)
	require.Len(t, page.Transactions, 1)
	assert.Equal(t, int64(200), page.Transactions[0].XPAmount)

	code, raw = send(t, app, call{method: "GET", path: "/xp/leaderboard?limit=5", devUser: "u1"})
	require.Equal(t, http.StatusOK, code)
	board := decode[[]services.LeaderboardEntry](t, raw)
	require.Len(t, board, 2)
	assert.Equal(t, "u2", board[0].UserID)
	assert.Equal(t, models.TierGold, board[0].Tier)

	code, _ = send(t, app, call{method: "GET", path: "/user/xp", devUser: "nobody"})
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = send(t, app, call{method: "GET", path: "/user/xp"})
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = send(t, app, call{method: "POST", path: "/user/xp/statement", devUser: "u1"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestSettingsAndProfileEndpoints(t *testing.T) {
	app, db := newTestApp(t)

	code, _ := send(t, app, call{method: "GET", path: "/user/profile", devUser: "c1"})
	assert.Equal(t, http.StatusNotFound, code)

	code, raw := send(t, app, call{method: "PATCH", path: "/user/settings", devUser: "c1", body: `{"theme":"dark","isAdmin":true}`})
	assert.Equal(t, http.StatusBadRequest, code, string(raw))

	code, raw = send(t, app, call{method: "PATCH", path: "/user/settings", devUser: "c1", body: `{"theme":"dark","weeklyGoalHours":6}`})
	require.Equal(t, http.StatusOK, code, string(raw))
	student := decode[models.Student](t, raw)
	assert.Equal(t, "dark", student.Theme)
	assert.Equal(t, 6, student.WeeklyGoalHours)

	code, raw = send(t, app, call{method: "GET", path: "/user/profile", devUser: "c1"})
	require.Equal(t, http.StatusOK, code)
	profile := decode[map[string]any](t, raw)
	assert.Nil(t, profile["xp"])
	assert.Equal(t, "dark", profile["student"].(map[string]any)["theme"])

	testutil.Balance(t, db, "c1")
	code, raw = send(t, app, call{method: "GET", path: "/user/profile", devUser: "c1"})
	require.Equal(t, http.StatusOK, code)
	profile = decode[map[string]any](t, raw)
	assert.NotNil(t, profile["xp"])
}

func TestHealthz(t *testing.T) {
	app, _ := newTestApp(t)
	code, raw := send(t, app, call{method: "GET", path: "/healthz"})
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"status":"ok"}`, string(raw))
}

func TestParseSubmissionDate(t *testing.T) {
	d, err := ParseSubmissionDate("2024-01-08")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d.Weekday())

	d, err = ParseSubmissionDate("2024-01-14T23:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, d.Weekday())

	_, err = ParseSubmissionDate("yesterday")
	assert.Error(t, err)
}

func TestScalarString(t *testing.T) {
	for raw, want := range map[string]string{
		`"bp-7"`: "bp-7",
		`42`:     "42",
		`true`:   "true",
		`null`:   "",
		``:       "",
	} {
		got, err := scalarString(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := scalarString(json.RawMessage(`[1]`))
	assert.Error(t, err)
}

func TestRequestIDHeader(t *testing.T) {
	app, _ := newTestApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Len(t, resp.Header.Get("X-Request-ID"), 36)
}
