package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/repository/memstore"
)

type chatCall struct {
	channel, ref, text string
}

type fakeChat struct {
	posts   []chatCall
	replies []chatCall
	err     error
}

func (f *fakeChat) Post(_ context.Context, channel, text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.posts = append(f.posts, chatCall{channel: channel, text: text})
	return "ts-1", nil
}

func (f *fakeChat) Reply(_ context.Context, channel, ref, text string) error {
	if f.err != nil {
		return f.err
	}
	f.replies = append(f.replies, chatCall{channel: channel, ref: ref, text: text})
	return nil
}

type fakeEmail struct {
	sent []Email
}

func (f *fakeEmail) Send(_ context.Context, msg Email) (string, error) {
	f.sent = append(f.sent, msg)
	return "msg-" + string(rune('0'+len(f.sent))) + "@example.edu", nil
}

func setup(t *testing.T) (*memstore.Store, *events.Registry, *fakeChat, *fakeEmail, *domain.Ticket) {
	t.Helper()
	store := memstore.New()
	store.AddCategory(domain.Category{ID: 1, Name: "Plumbing", Domain: "hostel", IsActive: true})
	store.AddUser(domain.User{ID: "req-1", Email: "req@example.edu", Role: domain.RoleRequester, IsActive: true})
	store.AddUser(domain.User{ID: "warden", Email: "warden@example.edu", Role: domain.RoleAdmin, Domain: "hostel", IsActive: true})

	assignee := "warden"
	ticket := &domain.Ticket{CategoryID: 1, CreatedBy: "req-1", AssignedTo: &assignee, StatusCode: domain.StatusOpen, Description: "Tap is leaking"}
	require.NoError(t, store.Tickets().Create(context.Background(), ticket))

	chat := &fakeChat{}
	email := &fakeEmail{}
	cfg := config.NotificationConfig{
		Chat: config.ChatConfig{DefaultChannel: "C-default", DomainChannels: map[string]string{"hostel": "C-hostel"}, EscalationChannel: "C-esc"},
	}
	registry := events.NewRegistry()
	NewNotifier(store, chat, email, NewRenderer(), cfg, zap.NewNop()).RegisterHandlers(registry)
	return store, registry, chat, email, ticket
}

func event(t *testing.T, typ events.EventType, ticketID int64, payload any) events.Event {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return events.Event{ID: "e", Type: typ, TicketID: ticketID, Payload: body}
}

func TestNotifierThreadsChatAndEmail(t *testing.T) {
	store, registry, chat, email, ticket := setup(t)
	ctx := context.Background()

	created := event(t, events.EventTicketCreated, ticket.ID, events.TicketCreatedPayload{AssignedTo: "warden", Status: domain.StatusOpen})
	require.NoError(t, registry.Handle(ctx, created, nil))

	require.Len(t, chat.posts, 1)
	assert.Equal(t, "C-hostel", chat.posts[0].channel)
	require.Len(t, email.sent, 1)
	assert.ElementsMatch(t, []string{"warden@example.edu", "req@example.edu"}, email.sent[0].To)

	stored, err := store.Tickets().GetByID(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "ts-1", stored.State.Notifications.ChatMessageRef)
	assert.Equal(t, "C-hostel", stored.State.Notifications.ChatChannel)
	assert.Equal(t, "msg-1@example.edu", stored.State.Notifications.EmailMessageID)

	status := event(t, events.EventTicketStatusUpdated, ticket.ID, events.TicketStatusUpdatedPayload{
		Actor: events.Actor{ID: "warden", Role: domain.RoleAdmin}, From: "open", To: "in_progress",
	})
	require.NoError(t, registry.Handle(ctx, status, nil))

	require.Len(t, chat.replies, 1)
	assert.Equal(t, "ts-1", chat.replies[0].ref)
	require.Len(t, email.sent, 2)
	assert.Equal(t, []string{"req@example.edu"}, email.sent[1].To, "the actor is not notified of their own change")
	assert.Equal(t, "msg-1@example.edu", email.sent[1].InReplyTo)
}

func TestNotifierEscalationAlsoPostsToEscalationChannel(t *testing.T) {
	_, registry, chat, _, ticket := setup(t)
	ev := event(t, events.EventTicketEscalated, ticket.ID, events.TicketEscalatedPayload{Level: 2, Reason: "tat_breach", AssignedTo: "warden", Urgent: true})
	require.NoError(t, registry.Handle(context.Background(), ev, nil))

	require.Len(t, chat.posts, 2)
	assert.Equal(t, "C-esc", chat.posts[1].channel)
	assert.Contains(t, chat.posts[1].text, "URGENT")
}

func TestNotifierChatFailureIsReturned(t *testing.T) {
	_, registry, chat, email, ticket := setup(t)
	chat.err = errors.New("rate limited")
	ev := event(t, events.EventTicketTATReminder, ticket.ID, events.TicketTATReminderPayload{AssignedTo: "warden", Deadline: time.Now(), HoursLeft: 3})

	err := registry.Handle(context.Background(), ev, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Len(t, email.sent, 1, "email still goes out when chat fails")
}

func TestInternalCommentSkipsRequester(t *testing.T) {
	_, registry, _, email, ticket := setup(t)
	ev := event(t, events.EventTicketCommentAdded, ticket.ID, events.TicketCommentAddedPayload{
		Actor: events.Actor{ID: "committee-1", Role: domain.RoleCommittee}, Body: "check valve", Internal: true,
	})
	require.NoError(t, registry.Handle(context.Background(), ev, nil))
	require.Len(t, email.sent, 1)
	assert.Equal(t, []string{"warden@example.edu"}, email.sent[0].To)
}
