package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/classbank/economy/internal/database"
	"github.com/classbank/economy/internal/market"
	mW "github.com/classbank/economy/internal/middleware"
	"github.com/classbank/economy/internal/models"
	"github.com/classbank/economy/internal/services"
	"github.com/classbank/economy/internal/storage/memory"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

type testServer struct {
	handler http.Handler
	teacher models.Account
	student models.Account
}

func newTestServer(t *testing.T, diagnose func(ctx context.Context) database.Diagnosis) *testServer {
	t.Helper()
	store := memory.New()
	ledger := services.NewLedgerService(store)
	feed := market.NewStaticFeed(map[string]decimal.Decimal{"ACME": decimal.RequireFromString("4.50")})
	accounts := services.NewAccountService(store)

	api := NewAPI(Services{
		Accounts:  accounts,
		Ledger:    ledger,
		Transfers: services.NewTransferService(store, ledger),
		Jobs:      services.NewJobService(store, ledger),
		Quests:    services.NewQuestService(store, ledger),
		Trading:   services.NewTradingService(store, ledger, feed),
	}, diagnose)

	ctx := context.Background()
	teacher, err := accounts.CreateAccount(ctx, models.System, services.NewAccount{Username: "ms-frizzle", Role: models.RoleTeacher, OpeningBalance: 1000})
	require.NoError(t, err)
	student, err := accounts.CreateAccount(ctx, models.System, services.NewAccount{Username: "arnold", Role: models.RoleStudent})
	require.NoError(t, err)

	return &testServer{
		handler: api.Router(RouterConfig{
			Auth:           mW.NewAuthenticator(testSecret, ""),
			AllowedOrigins: []string{"*"},
			Timeout:        5 * time.Second,
		}),
		teacher: teacher,
		student: student,
	}
}

func token(t *testing.T, acct models.Account) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, mW.Claims{
		UserID: strconv.FormatInt(acct.ID, 10),
		Role:   string(acct.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, as *models.Account, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", "Bearer "+token(t, *as))
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	t.Run("memory store", func(t *testing.T) {
		s := newTestServer(t, nil)
		rec := s.do(t, nil, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("missing table", func(t *testing.T) {
		s := newTestServer(t, func(ctx context.Context) database.Diagnosis {
			return database.Diagnosis{Connected: true, Tables: []database.TableStatus{{Name: "positions"}}}
		})
		rec := s.do(t, nil, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), `"unhealthy"`)
	})
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, nil, http.MethodGet, "/api/v1/rankings", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/rankings", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTransferEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, &s.teacher, http.MethodPost, "/api/v1/transfers", map[string]any{
		"from": s.teacher.ID, "to": s.student.ID, "amount": 200,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[models.Transaction](t, rec)
	assert.Equal(t, models.KindTransfer, entry.Kind)

	rec = s.do(t, &s.student, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(s.student.ID, 10)+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(200), decode[map[string]int64](t, rec)["balance"])

	tests := []struct {
		name   string
		as     *models.Account
		body   any
		status int
	}{
		{"student", &s.student, map[string]any{"from": s.student.ID, "to": s.teacher.ID, "amount": 1}, http.StatusForbidden},
		{"same account", &s.teacher, map[string]any{"from": s.teacher.ID, "to": s.teacher.ID, "amount": 1}, http.StatusBadRequest},
		{"overdraft", &s.teacher, map[string]any{"from": s.student.ID, "to": s.teacher.ID, "amount": 201}, http.StatusUnprocessableEntity},
		{"unknown account", &s.teacher, map[string]any{"from": s.teacher.ID, "to": 9999, "amount": 1}, http.StatusNotFound},
		{"unknown field", &s.teacher, map[string]any{"from": s.teacher.ID, "to": s.student.ID, "amount": 1, "memo": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.as, http.MethodPost, "/api/v1/transfers", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	refundPath := "/api/v1/transactions/" + strconv.FormatInt(entry.ID, 10) + "/refund"
	rec = s.do(t, &s.teacher, http.MethodPost, refundPath, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = s.do(t, &s.teacher, http.MethodPost, refundPath, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, &s.student, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(s.teacher.ID, 10)+"/transactions", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.teacher, http.MethodGet, "/api/v1/accounts/abc/balance", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuestEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, &s.teacher, http.MethodPost, "/api/v1/quests", map[string]any{"title": "Clean the lab", "reward": 50})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	quest := decode[models.Quest](t, rec)

	submit := "/api/v1/quests/" + strconv.FormatInt(quest.ID, 10) + "/completions"
	rec = s.do(t, &s.student, http.MethodPost, submit, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	completion := decode[models.QuestCompletion](t, rec)

	rec = s.do(t, &s.student, http.MethodPost, submit, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, &s.teacher, http.MethodGet, "/api/v1/completions/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.PendingCompletion](t, rec), 1)

	verify := "/api/v1/completions/" + strconv.FormatInt(completion.ID, 10) + "/verify"
	rec = s.do(t, &s.student, http.MethodPost, verify, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.teacher, http.MethodPost, verify, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(50), decode[models.Transaction](t, rec).Amount)

	rec = s.do(t, &s.teacher, http.MethodPost, verify, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestTradingEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, &s.teacher, http.MethodPost, "/api/v1/transfers", map[string]any{
		"from": s.teacher.ID, "to": s.student.ID, "amount": 100,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, &s.teacher, http.MethodPost, "/api/v1/instruments", map[string]any{"symbol": "NOPE"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = s.do(t, &s.student, http.MethodPost, "/api/v1/instruments", map[string]any{"symbol": "ACME"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, &s.teacher, http.MethodPost, "/api/v1/instruments", map[string]any{"symbol": "acme", "name": "Acme"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	inst := decode[models.Instrument](t, rec)

	trades := "/api/v1/accounts/" + strconv.FormatInt(s.student.ID, 10) + "/trades"
	rec = s.do(t, &s.student, http.MethodPost, trades, map[string]any{"instrumentId": inst.ID, "direction": "buy", "quantity": 3})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	res := decode[services.TradeResult](t, rec)
	assert.Equal(t, int64(14), res.Trade.Total)
	assert.Equal(t, int64(86), res.Balance)

	rec = s.do(t, &s.student, http.MethodPost, trades, map[string]any{"instrumentId": inst.ID, "direction": "sell", "quantity": 4})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, &s.student, http.MethodPost, trades, map[string]any{"instrumentId": inst.ID, "direction": "short", "quantity": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, &s.student, http.MethodGet, "/api/v1/accounts/"+strconv.FormatInt(s.student.ID, 10)+"/portfolio", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[models.Portfolio](t, rec)
	require.Len(t, p.Holdings, 1)
	assert.True(t, decimal.RequireFromString("13.5").Equal(p.MarketValue), p.MarketValue.String())

	rec = s.do(t, &s.student, http.MethodPost, "/api/v1/instruments/refresh", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, &s.teacher, http.MethodPost, "/api/v1/instruments/refresh", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
