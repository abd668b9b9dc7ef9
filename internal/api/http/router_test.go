package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/api/http/handlers"
	"github.com/spec-kit/ticket-lifecycle/internal/assignment"
	"github.com/spec-kit/ticket-lifecycle/internal/auth"
	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/escalation"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/lifecycle"
	"github.com/spec-kit/ticket-lifecycle/internal/observability"
	"github.com/spec-kit/ticket-lifecycle/internal/outbox"
	"github.com/spec-kit/ticket-lifecycle/internal/persistence"
	"github.com/spec-kit/ticket-lifecycle/internal/repository/memstore"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
	"github.com/spec-kit/ticket-lifecycle/internal/status"
	"github.com/spec-kit/ticket-lifecycle/internal/tat"
)

const schedulerSecret = "cron-secret"

type apiFixture struct {
	app       *fiber.App
	tokens    *auth.TokenManager
	delivered *int64
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store := memstore.New()
	store.AddCategory(domain.Category{ID: 1, Name: "Plumbing", Domain: "hostel", IsActive: true})
	store.AddUser(domain.User{ID: "student-1", Role: domain.RoleRequester, IsActive: true})
	store.AddUser(domain.User{ID: "admin-1", Role: domain.RoleAdmin, IsActive: true})

	statuses, err := status.NewRegistry(status.Defaults())
	require.NoError(t, err)
	escCfg := domain.DefaultEscalationConfig()
	escCfg.SuperAdminID = "root"
	engine := tat.NewEngine(tat.NewParser(time.UTC, nil), escCfg)
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	var delivered int64
	registry := events.NewRegistry()
	for _, et := range []events.EventType{events.EventTicketCreated, events.EventTicketStatusUpdated} {
		registry.Subscribe(et, "counter", func(context.Context, events.Event) error {
			atomic.AddInt64(&delivered, 1)
			return nil
		})
	}
	dispatcher := outbox.NewDispatcher(store, registry, config.OutboxConfig{BatchSize: 10, MaxAttempts: 3, LeaseSeconds: 60, SendTimeoutSeconds: 5}, logger, metrics)

	deps := escalation.Deps{
		Store:    store,
		Statuses: statuses,
		TAT:      engine,
		Outbox:   outbox.New(),
		Kicker:   dispatcher,
		Locker:   persistence.NewLocalLocker(),
		Logger:   logger,
		Metrics:  metrics,
	}
	sweeper := escalation.NewSweeper(deps, escCfg, time.Minute)
	svc := service.NewTicketService(service.TicketDependencies{
		Store:     store,
		Machine:   lifecycle.NewMachine(statuses, engine),
		TAT:       engine,
		Resolver:  assignment.NewResolver(store.Reference(), escCfg.SuperAdminID),
		Outbox:    deps.Outbox,
		Kicker:    dispatcher,
		Escalator: sweeper,
		Logger:    logger,
	})

	tokens := auth.NewTokenManager("api-test", 5)
	app := fiber.New()
	RegisterMiddlewares(app, logger, metrics, time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:         handlers.NewHealthHandler("ticket-lifecycle", "test", map[string]handlers.Pinger{"store": store}),
		Tickets:        handlers.NewTicketsHandler(svc),
		Cron:           handlers.NewCronHandler(sweeper, escalation.NewReminder(deps, 50, time.Minute), dispatcher),
		AuthMiddleware: auth.NewAuthMiddleware(tokens, store.Users()),
		Scheduler:      auth.NewSchedulerGuard(config.SchedulerConfig{Secret: schedulerSecret}, true),
		Metrics:        metrics.Handler(),
	})
	return &apiFixture{app: app, tokens: tokens, delivered: &delivered}
}

func (f *apiFixture) token(t *testing.T, id string, role domain.Role) string {
	t.Helper()
	token, _, err := f.tokens.GenerateToken(domain.Actor{ID: id, Role: role})
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := map[string]any{}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func TestHealthAndMetrics(t *testing.T) {
	f := newAPIFixture(t)

	code, body := f.do(t, http.MethodGet, "/health/live", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	code, body = f.do(t, http.MethodGet, "/health/ready", "", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])

	code, body = f.do(t, http.MethodGet, "/nowhere", "", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", errorCode(body))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ticket_http_requests_total")
}

func TestTicketFlow(t *testing.T) {
	f := newAPIFixture(t)
	student := f.token(t, "student-1", domain.RoleRequester)
	admin := f.token(t, "admin-1", domain.RoleAdmin)

	code, _ := f.do(t, http.MethodPost, "/api/v1/tickets", "", `{"category_id":1,"description":"leak"}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := f.do(t, http.MethodPost, "/api/v1/tickets", student, `{"description":""}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", errorCode(body))

	code, body = f.do(t, http.MethodPost, "/api/v1/tickets", student, `{"category_id":1,"description":"leak","location":"Block A"}`)
	require.Equal(t, http.StatusCreated, code, body)
	data := body["data"].(map[string]any)
	assert.Equal(t, "open", data["status"])
	assert.Equal(t, "root", data["assigned_to"])
	path := "/api/v1/tickets/1"

	code, body = f.do(t, http.MethodPost, path+"/status", student, `{"status":"in_progress"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", errorCode(body))

	code, _ = f.do(t, http.MethodPost, path+"/tat", student, `{"tat":"2 days"}`)
	assert.Equal(t, http.StatusForbidden, code)

	code, body = f.do(t, http.MethodPost, path+"/status", admin, `{"status":"bogus"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_STATUS", errorCode(body))

	code, body = f.do(t, http.MethodPost, path+"/tat", admin, `{"tat":"2 days","mark_in_progress":true}`)
	require.Equal(t, http.StatusOK, code, body)
	data = body["data"].(map[string]any)
	assert.Equal(t, "in_progress", data["status"])
	assert.Equal(t, "admin-1", data["assigned_to"])

	code, body = f.do(t, http.MethodPost, path+"/escalate", admin, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["level"])

	code, body = f.do(t, http.MethodGet, path, student, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "escalated", body["data"].(map[string]any)["status"])

	code, _ = f.do(t, http.MethodGet, path+"/history", student, "")
	assert.Equal(t, http.StatusForbidden, code)
	code, body = f.do(t, http.MethodGet, path+"/history", admin, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 3)

	code, body = f.do(t, http.MethodGet, "/api/v1/tickets?status=escalated", student, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["data"], 1)

	code, _ = f.do(t, http.MethodGet, "/api/v1/tickets/abc", admin, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCronEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	student := f.token(t, "student-1", domain.RoleRequester)
	code, _ := f.do(t, http.MethodPost, "/api/v1/tickets", student, `{"category_id":1,"description":"leak"}`)
	require.Equal(t, http.StatusCreated, code)

	code, body := f.do(t, http.MethodPost, "/internal/cron/outbox/drain", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(body))

	code, body = f.do(t, http.MethodPost, "/internal/cron/outbox/drain", schedulerSecret, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["delivered"])
	assert.EqualValues(t, 1, atomic.LoadInt64(f.delivered))

	code, body = f.do(t, http.MethodPost, "/internal/cron/escalations", schedulerSecret, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 1, body["data"].(map[string]any)["scanned"])

	code, body = f.do(t, http.MethodPost, "/internal/cron/tat-reminders", schedulerSecret, "")
	require.Equal(t, http.StatusOK, code, body)
	assert.EqualValues(t, 0, body["data"].(map[string]any)["reminded"])

	code, body = f.do(t, http.MethodGet, "/internal/cron/outbox/exhausted", schedulerSecret, "")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["data"])
}
