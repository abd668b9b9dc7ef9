package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository/memstore"
	"github.com/spec-kit/ticket-lifecycle/internal/service"
)

func testConfig(env string) *config.Config {
	esc := domain.DefaultEscalationConfig()
	esc.SuperAdminID = "root"
	return &config.Config{
		App:        config.AppConfig{Name: "ticket-lifecycle", Env: env, Timezone: "UTC"},
		Escalation: esc,
		Outbox:     config.OutboxConfig{BatchSize: 10, MaxAttempts: 3, LeaseSeconds: 60, SendTimeoutSeconds: 5},
		Scheduler:  config.SchedulerConfig{LockTTLSeconds: 60},
		Calendar: config.CalendarConfig{
			Workdays:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
			StartHour: 9,
			EndHour:   17,
		},
	}
}

func TestBuildWithMemoryStore(t *testing.T) {
	ctx := context.Background()
	c, err := Build(ctx, testConfig("development"), zap.NewNop(), Options{})
	require.NoError(t, err)
	defer c.Close()

	assert.Nil(t, c.Postgres())
	assert.Contains(t, c.Pingers(), "store")
	assert.NotContains(t, c.Pingers(), "redis")
	assert.True(t, c.Statuses.IsFinal(domain.StatusClosed))

	mem, ok := c.Store.(*memstore.Store)
	require.True(t, ok)
	mem.AddCategory(domain.Category{ID: 1, Name: "Electrical", Domain: "hostel", IsActive: true})

	requester := domain.Actor{ID: "student-1", Role: domain.RoleRequester}
	ticket, err := c.Tickets.CreateTicket(ctx, requester, service.CreateTicketInput{CategoryID: 1, Description: "no power"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOpen, ticket.StatusCode)
	require.NotNil(t, ticket.AssignedTo)
	assert.Equal(t, "root", *ticket.AssignedTo)

	result, err := c.Dispatcher.Drain(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Failed)
}

func TestBuildRequiresPostgresInProduction(t *testing.T) {
	_, err := Build(context.Background(), testConfig("production"), zap.NewNop(), Options{})
	require.Error(t, err)
}
