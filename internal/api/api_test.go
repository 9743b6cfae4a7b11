package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"fotoagenda/internal/agenda"
	"fotoagenda/internal/booking"
	"fotoagenda/internal/config"
	"fotoagenda/internal/database"
	"fotoagenda/internal/flow"
	"fotoagenda/internal/models"
	"fotoagenda/internal/state"
)

const (
	testAPIKey      = "valid-key"
	testVerifyToken = "verify-me"
)

const testCatalog = `
services:
  - code: Service_Boda
    name: Bodas
    duration_minutes: 60
    interval_minutes: 30
    weekly:
      - weekdays: [0]
        ranges:
          - {start: "10:00", end: "12:00"}
    packages:
      - {name: Base, price: "1500", deposit: "500", is_default: true}
`

type ErrorResponse struct {
	Error string `json:"error"`
}

type recordingSender struct {
	mu   sync.Mutex
	sent []flow.Payload
}

func (s *recordingSender) Send(_ context.Context, p flow.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, p)
	return nil
}

type testServer struct {
	*httptest.Server
	db     *database.DB
	core   *booking.Service
	sender *recordingSender
	boda   *models.Service
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()
	logger := zerolog.Nop()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "api.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	catalog, err := config.ParseCatalog([]byte(testCatalog))
	require.NoError(t, err)
	require.NoError(t, db.SyncCatalog(ctx, catalog))
	boda, err := db.GetServiceByCode(ctx, "Service_Boda")
	require.NoError(t, err)

	core := booking.NewService(db, time.UTC, nil, &logger)
	core.SetClock(func() time.Time { return time.Date(2026, 10, 15, 9, 0, 0, 0, time.UTC) })
	router := flow.NewRouter(flow.Default(), db.Queries, db.Queries, core, state.NewDBStore(db), nil,
		flow.RouterConfig{BaseURL: "https://agenda.example.com"}, &logger)
	sender := &recordingSender{}

	srv := NewHTTPServer(Config{
		APIKeys:            []string{testAPIKey},
		VerifyToken:        testVerifyToken,
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,
	}, agenda.New(core, db.Queries, 10, &logger), router, sender, state.NewMemoryLimiter(60), &logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, db: db, core: core, sender: sender, boda: boda}
}

func (ts *testServer) intent(t *testing.T, phone string) string {
	t.Helper()
	ctx := context.Background()
	u, err := ts.db.UpsertUser(ctx, phone, "Ana")
	require.NoError(t, err)
	it, err := ts.core.CreateIntent(ctx, u.ID, ts.boda.ID, "Service_Boda")
	require.NoError(t, err)
	return it.Token
}

func (ts *testServer) do(t *testing.T, method, path string, body any, apiKey bool) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	if apiKey {
		req.Header.Set("X-Api-Key", testAPIKey)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestCalendar_TimesAndConfirm(t *testing.T) {
	srv := setupTestServer(t)
	token := srv.intent(t, "5215550001")

	resp := srv.do(t, http.MethodGet, "/api/calendar/"+token, nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ctxBody := decode[booking.IntentContext](t, resp)
	assert.Equal(t, "Bodas", ctxBody.Service.Name)
	require.NotNil(t, ctxBody.Selected)
	assert.Equal(t, "Base", ctxBody.Selected.Name)

	resp = srv.do(t, http.MethodGet, "/api/calendar/"+token+"/times?date=2026-10-19", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, TimesResponse{Date: "2026-10-19", Times: []string{"10:00", "10:30", "11:00"}}, decode[TimesResponse](t, resp))

	resp = srv.do(t, http.MethodPost, "/api/calendar/"+token+"/confirm", ConfirmRequest{Date: "2026-10-19", Time: "10:30"}, false)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	other := srv.intent(t, "5215550002")
	resp = srv.do(t, http.MethodGet, "/api/calendar/"+other+"/times?date=2026-10-19", nil, false)
	assert.Empty(t, decode[TimesResponse](t, resp).Times)

	resp = srv.do(t, http.MethodPost, "/api/calendar/"+other+"/confirm", ConfirmRequest{Date: "2026-10-19", Time: "11:00"}, false)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Ese horario ya no está disponible. Elige otro.", decode[ErrorResponse](t, resp).Error)
}

func TestCalendar_Validation(t *testing.T) {
	srv := setupTestServer(t)
	token := srv.intent(t, "5215550001")

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantError  string
	}{
		{"bad date", http.MethodGet, "/api/calendar/" + token + "/times?date=19-10-2026", nil, http.StatusBadRequest, msgBadDate},
		{"bad package", http.MethodGet, "/api/calendar/" + token + "/times?date=2026-10-19&package_id=x", nil, http.StatusBadRequest, msgBadPackage},
		{"unknown token", http.MethodGet, "/api/calendar/nope/times?date=2026-10-19", nil, http.StatusNotFound, "No encontramos la información solicitada."},
		{"bad time", http.MethodPost, "/api/calendar/" + token + "/confirm", ConfirmRequest{Date: "2026-10-19", Time: "25:00"}, http.StatusBadRequest, msgBadTime},
		{"unknown field", http.MethodPost, "/api/calendar/" + token + "/confirm", map[string]string{"fecha": "2026-10-19"}, http.StatusBadRequest, msgBadJSON},
		{"past date", http.MethodPost, "/api/calendar/" + token + "/confirm", ConfirmRequest{Date: "2026-10-12", Time: "10:00"}, http.StatusBadRequest, "No es posible reservar en una fecha pasada."},
		{"not offered", http.MethodPost, "/api/calendar/" + token + "/confirm", ConfirmRequest{Date: "2026-10-19", Time: "10:15"}, http.StatusConflict, "Ese horario ya no está disponible. Elige otro."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := srv.do(t, tt.method, tt.path, tt.body, false)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantError, decode[ErrorResponse](t, resp).Error)
		})
	}
}

func TestDashboard_RequiresAPIKey(t *testing.T) {
	srv := setupTestServer(t)

	resp := srv.do(t, http.MethodGet, "/api/dashboard/services", nil, false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/dashboard/services", nil, true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDashboard_ManualBookingLifecycle(t *testing.T) {
	srv := setupTestServer(t)
	id := srv.boda.ID

	resp := srv.do(t, http.MethodGet, "/api/dashboard/times?service_id="+itoa(id)+"&date=2026-10-19", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"10:00", "10:30", "11:00"}, decode[TimesResponse](t, resp).Times)

	resp = srv.do(t, http.MethodPost, "/api/dashboard/bookings", ManualBookingRequest{
		ServiceID: id, Date: "2026-10-19", Time: "10:00", Name: "Luis", Phone: "5215550003", Deposit: "9000",
	}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "El anticipo no puede ser mayor al precio del paquete.", decode[ErrorResponse](t, resp).Error)

	resp = srv.do(t, http.MethodPost, "/api/dashboard/bookings", ManualBookingRequest{
		ServiceID: id, Date: "2026-10-19", Time: "10:00", Status: "confirmed", Name: "Luis", Phone: "5215550003", Deposit: "300",
	}, true)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[struct {
		Booking models.Booking `json:"booking"`
	}](t, resp).Booking
	assert.Equal(t, models.StatusConfirmed, created.Status)
	assert.Equal(t, "300", created.DepositAmount.String())

	path := "/api/dashboard/bookings/" + itoa(created.ID) + "/status"
	resp = srv.do(t, http.MethodPost, path, StatusRequest{Status: "cancelled"}, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, path, StatusRequest{Status: "archived"}, true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = srv.do(t, http.MethodPost, "/api/dashboard/bookings/9999/status", StatusRequest{Status: "confirmed"}, true)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/dashboard/bookings?status=cancelled", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[agenda.BookingPage](t, resp)
	assert.Equal(t, 1, page.Total)

	resp = srv.do(t, http.MethodGet, "/api/dashboard/events?from=2026-10-19&to=2026-10-19", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := decode[[]agenda.CalendarEvent](t, resp)
	require.Len(t, events, 1)
	assert.Equal(t, "Bodas - Luis", events[0].Title)
}

func TestDashboard_ExportAndFlow(t *testing.T) {
	srv := setupTestServer(t)
	_, err := srv.core.CreateManual(context.Background(), booking.ManualRequest{
		ServiceID: srv.boda.ID, Date: "2026-10-19", Time: "10:00",
		Customer: booking.Customer{Name: "Ana", Phone: "5215550001"},
	})
	require.NoError(t, err)

	resp := srv.do(t, http.MethodGet, "/api/dashboard/bookings.xlsx", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "reservas.xlsx")
	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	name, err := f.GetCellValue("Reservas", "A2")
	require.NoError(t, err)
	assert.NotEmpty(t, name)

	resp = srv.do(t, http.MethodGet, "/api/dashboard/flow.mmd", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "flowchart TD"))
}

func TestWebhook_Verify(t *testing.T) {
	srv := setupTestServer(t)

	resp := srv.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token="+testVerifyToken+"&hub.challenge=1234", nil, false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "1234", string(body))

	resp = srv.do(t, http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=1234", nil, false)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestWebhook_RoutesMessages(t *testing.T) {
	srv := setupTestServer(t)

	payload := `{"entry":[{"changes":[{"value":{
		"contacts":[{"wa_id":"5215550009","profile":{"name":"Eva"}}],
		"messages":[{"from":"5215550009","type":"interactive","interactive":{"list_reply":{"id":"Service_Boda","title":"Bodas"}}}]
	}}]}]}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(payload))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"received": 1, "replies": 2}, decode[map[string]int](t, resp))

	require.Len(t, srv.sender.sent, 2)
	link := srv.sender.sent[1].Text.Body
	assert.True(t, strings.HasPrefix(link, "https://agenda.example.com/calendario/"), link)

	u, err := srv.db.GetUserByPhone(context.Background(), "5215550009")
	require.NoError(t, err)
	assert.Equal(t, "Eva", u.Name)
	assert.Equal(t, models.StateBooking, u.State)

	resp2 := srv.do(t, http.MethodPost, "/webhook", nil, false)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestDashboard_AttentionResolve(t *testing.T) {
	srv := setupTestServer(t)

	payload := `{"entry":[{"changes":[{"value":{
		"contacts":[{"wa_id":"5215550009","profile":{"name":"Eva"}}],
		"messages":[{"from":"5215550009","type":"text","text":{"body":"Dudas"}}]
	}}]}]}`
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/webhook", strings.NewReader(payload))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	type attention struct {
		Users []models.User `json:"users"`
	}
	resp = srv.do(t, http.MethodGet, "/api/dashboard/attention", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chats := decode[attention](t, resp).Users
	require.Len(t, chats, 1)
	assert.Equal(t, "Eva", chats[0].Name)
	assert.True(t, chats[0].NeedsAttention)

	path := "/api/dashboard/attention/" + itoa(chats[0].ID) + "/resolve"
	assert.Equal(t, http.StatusUnauthorized, srv.do(t, http.MethodPost, path, nil, false).StatusCode)

	resp = srv.do(t, http.MethodPost, path, nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = srv.do(t, http.MethodGet, "/api/dashboard/attention", nil, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[attention](t, resp).Users)

	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodPost, "/api/dashboard/attention/9999/resolve", nil, true).StatusCode)
	assert.Equal(t, http.StatusBadRequest, srv.do(t, http.MethodPost, "/api/dashboard/attention/abc/resolve", nil, true).StatusCode)
}

func TestRateLimit(t *testing.T) {
	logger := zerolog.Nop()
	srv := NewHTTPServer(Config{RateLimitPerSecond: 0.001, RateLimitBurst: 1, VerifyToken: "x"}, nil, nil, nil, nil, &logger)

	first := httptest.NewRecorder()
	srv.Handler().ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=x", nil))
	assert.Equal(t, http.StatusOK, first.Code)

	second := httptest.NewRecorder()
	srv.Handler().ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/webhook?hub.mode=subscribe&hub.verify_token=x", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
