package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/ticket-lifecycle/internal/config"
	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/events"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

// Notifier turns ticket events into chat posts and emails. Its handlers
// tolerate redelivery: a duplicate only repeats a message.
type Notifier struct {
	store    repository.Store
	chat     ChatSink
	email    EmailSink
	renderer *Renderer
	cfg      config.NotificationConfig
	logger   *zap.Logger
}

// NewNotifier creates the notifier.
func NewNotifier(store repository.Store, chat ChatSink, email EmailSink, renderer *Renderer, cfg config.NotificationConfig, logger *zap.Logger) *Notifier {
	return &Notifier{
		store:    store,
		chat:     chat,
		email:    email,
		renderer: renderer,
		cfg:      cfg,
		logger:   logger,
	}
}

// AllEventTypes lists every event the notifier understands.
var AllEventTypes = []events.EventType{
	events.EventTicketCreated,
	events.EventTicketStatusUpdated,
	events.EventTicketTATUpdated,
	events.EventTicketEscalated,
	events.EventTicketForwarded,
	events.EventTicketCommentAdded,
	events.EventTicketTATReminder,
}

// RegisterHandlers subscribes the chat and email handlers to every event type.
func (n *Notifier) RegisterHandlers(registry *events.Registry) {
	for _, t := range AllEventTypes {
		registry.Subscribe(t, "chat", n.handleChat)
		registry.Subscribe(t, "email", n.handleEmail)
	}
}

type message struct {
	Subject    string
	Text       string
	Recipients []string
	Urgent     bool
}

func (n *Notifier) handleChat(ctx context.Context, ev events.Event) error {
	ticket, err := n.store.Tickets().GetByID(ctx, ev.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", ev.TicketID, err)
	}
	msg, err := n.compose(ev, ticket)
	if err != nil {
		return err
	}

	refs := ticket.State.Notifications
	channel := refs.ChatChannel
	if channel == "" {
		channel = n.channelFor(ctx, ticket)
	}
	if channel == "" {
		n.logger.Debug("no chat channel for ticket", zap.Int64("ticket_id", ticket.ID))
		return nil
	}

	text := msg.Text
	if msg.Urgent {
		text = ":rotating_light: *URGENT* " + text
	}

	if refs.ChatMessageRef == "" {
		ref, err := n.chat.Post(ctx, channel, text)
		if err != nil {
			return err
		}
		if ref != "" {
			if err := n.saveRefs(ctx, ticket.ID, func(r *domain.NotificationRefs) {
				r.ChatChannel = channel
				r.ChatMessageRef = ref
			}); err != nil {
				return err
			}
		}
	} else if err := n.chat.Reply(ctx, channel, refs.ChatMessageRef, text); err != nil {
		return err
	}

	if ev.Type == events.EventTicketEscalated && n.cfg.Chat.EscalationChannel != "" && n.cfg.Chat.EscalationChannel != channel {
		if _, err := n.chat.Post(ctx, n.cfg.Chat.EscalationChannel, text); err != nil {
			return err
		}
	}
	return nil
}

func (n *Notifier) handleEmail(ctx context.Context, ev events.Event) error {
	ticket, err := n.store.Tickets().GetByID(ctx, ev.TicketID)
	if err != nil {
		return fmt.Errorf("load ticket %d: %w", ev.TicketID, err)
	}
	msg, err := n.compose(ev, ticket)
	if err != nil {
		return err
	}

	to := n.addresses(ctx, msg.Recipients)
	if len(to) == 0 {
		return nil
	}

	body := msg.Text
	if n.cfg.Email.DashboardURL != "" {
		body += fmt.Sprintf("\n\n[Open ticket #%d](%s/tickets/%d)", ticket.ID, strings.TrimRight(n.cfg.Email.DashboardURL, "/"), ticket.ID)
	}
	email := Email{To: to, Subject: msg.Subject, Body: body}
	thread := ticket.State.Notifications.EmailMessageID
	if thread != "" {
		email.Subject = "Re: " + email.Subject
		email.InReplyTo = thread
		email.References = []string{thread}
	}

	id, err := n.email.Send(ctx, email)
	if err != nil {
		return err
	}
	if thread == "" && id != "" {
		return n.saveRefs(ctx, ticket.ID, func(r *domain.NotificationRefs) {
			if r.EmailMessageID == "" {
				r.EmailMessageID = id
			}
		})
	}
	return nil
}

// saveRefs re-reads the ticket so concurrent handlers do not drop each other's refs.
func (n *Notifier) saveRefs(ctx context.Context, ticketID int64, mutate func(*domain.NotificationRefs)) error {
	current, err := n.store.Tickets().GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	refs := current.State.Notifications
	mutate(&refs)
	return n.store.Tickets().SaveNotificationRefs(ctx, ticketID, refs)
}

func (n *Notifier) channelFor(ctx context.Context, t *domain.Ticket) string {
	if len(n.cfg.Chat.DomainChannels) > 0 {
		category, err := n.store.Reference().GetCategory(ctx, t.CategoryID)
		if err == nil {
			if ch, ok := n.cfg.Chat.DomainChannels[category.Domain]; ok && ch != "" {
				return ch
			}
		}
	}
	return n.cfg.Chat.DefaultChannel
}

func (n *Notifier) addresses(ctx context.Context, userIDs []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range userIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		user, err := n.store.Users().GetByID(ctx, id)
		if err != nil {
			n.logger.Debug("skip unknown recipient", zap.String("user_id", id), zap.Error(err))
			continue
		}
		if user.Email != "" && user.IsActive {
			out = append(out, user.Email)
		}
	}
	return out
}

func (n *Notifier) compose(ev events.Event, t *domain.Ticket) (message, error) {
	assignee := ""
	if t.AssignedTo != nil {
		assignee = *t.AssignedTo
	}
	subject := fmt.Sprintf("[Ticket #%d] %s", t.ID, n.renderer.Plain(summary(t.Description)))

	switch ev.Type {
	case events.EventTicketCreated:
		var p events.TicketCreatedPayload
		if err := ev.Decode(&p); err != nil {
			return message{}, err
		}
		text := fmt.Sprintf("New ticket #%d: %s", t.ID, n.renderer.Plain(t.Description))
		if p.AssignedTo != "" {
			text += fmt.Sprintf("\nAssigned to: %s", p.AssignedTo)
		}
		if p.DueAt != nil {
			text += fmt.Sprintf("\nDue: %s", formatTime(*p.DueAt))
		}
		return message{Subject: subject, Text: text, Recipients: without([]string{p.AssignedTo, t.CreatedBy}, "")}, nil

	case events.EventTicketStatusUpdated:
		var p events.TicketStatusUpdatedPayload
		if err := ev.Decode(&p); err != nil {
			return message{}, err
		}
		text := fmt.Sprintf("Ticket #%d moved from *%s* to *%s*", t.ID, p.From, p.To)
		if p.Comment != "" {
			text += "\n> " + n.renderer.Plain(p.Comment)
		}
		return message{Subject: subject, Text: text, Recipients: without([]string{t.CreatedBy, assignee}, p.Actor.ID)}, nil

	case events.EventTicketTATUpdated:
		var p events.TicketTATUpdatedPayload
		if err := ev.Decode(&p); err != nil {
			return message{}, err
		}
		text := fmt.Sprintf("TAT for ticket #%d set to %q, due %s", t.ID, p.TAT, formatTime(p.TATDate))
		if p.IsExtension {
			text = fmt.Sprintf("TAT for ticket #%d extended from %q to %q, due %s (extension %d)", t.ID, p.PreviousTAT, p.TAT, formatTime(p.TATDate), p.ExtensionCount)
		}
		if p.ExtensionLimitReached {
			text += "\nExtension limit reached."
		}
		return message{Subject: subject, Text: text, Recipients: without([]string{t.CreatedBy}, p.Actor.ID)}, nil

	case events.EventTicketEscalated:
		var p events.TicketEscalatedPayload
		if err := ev.Decode(&p); err != nil {
			return message{}, err
		}
		text := fmt.Sprintf("Ticket #%d escalated to level %d (%s)", t.ID, p.Level, p.Reason)
		if p.HoursOverdue > 0 {
			text += fmt.Sprintf(", %dh overdue", p.HoursOverdue)
		}
		if p.AssignedTo != "" {
			text += fmt.Sprintf("\nNow assigned to: %s", p.AssignedTo)
		}
		if p.Note != "" {
			text += "\n> " + n.renderer.Plain(p.Note)
		}
		return message{Subject: subject, Text: text, Recipients: without([]string{p.AssignedTo}, ""), Urgent: p.Urgent}, nil

	case events.EventTicketForwarded:
		var p events.TicketForwardedPayload
		if err := ev.Decode(&p); err != nil {
			return message{}, err
		}
		text := fmt.Sprintf("Ticket #%d forwarded to %s", t.ID, p.To)
		if p.Note != "" {
			text += "\n> " + n.renderer.Plain(p.Note)
		}
		return message{Subject: subject, Text: text, Recipients: without([]string{p.To}, p.Actor.ID)}, nil

	case events.EventTicketCommentAdded:
		var p events.TicketCommentAddedPayload
		if err := ev.Decode(&p); err != nil {
			return message{}, err
		}
		text := fmt.Sprintf("New comment on ticket #%d from %s:\n> %s", t.ID, p.Actor.ID, n.renderer.Plain(p.Body))
		recipients := []string{assignee}
		if !p.Internal {
			recipients = append(recipients, t.CreatedBy)
		}
		return message{Subject: subject, Text: text, Recipients: without(recipients, p.Actor.ID)}, nil

	case events.EventTicketTATReminder:
		var p events.TicketTATReminderPayload
		if err := ev.Decode(&p); err != nil {
			return message{}, err
		}
		text := fmt.Sprintf("Reminder: ticket #%d is due %s (%dh left)", t.ID, formatTime(p.Deadline), p.HoursLeft)
		if p.Overdue {
			text = fmt.Sprintf("Reminder: ticket #%d is %dh past its TAT (%s)", t.ID, p.HoursOverdue, formatTime(p.Deadline))
		}
		return message{Subject: subject, Text: text, Recipients: without([]string{p.AssignedTo}, "")}, nil
	}
	return message{}, fmt.Errorf("unsupported event type %s", ev.Type)
}

func summary(description string) string {
	description = strings.TrimSpace(description)
	if line, _, ok := strings.Cut(description, "\n"); ok {
		description = line
	}
	if r := []rune(description); len(r) > 60 {
		return string(r[:60]) + "..."
	}
	return description
}

func without(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && id != exclude {
			out = append(out, id)
		}
	}
	return out
}

func formatTime(t time.Time) string {
	return t.Format("02 Jan 2006 15:04 MST")
}
