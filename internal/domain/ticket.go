package domain

import "time"

// Ticket is the aggregate for support requests.
type Ticket struct {
	ID                int64
	CategoryID        int64
	SubcategoryID     *int64
	SubSubcategoryID  *int64
	Description       string
	Location          string
	CreatedBy         string
	AssignedTo        *string
	StatusCode        string
	EscalationLevel   int
	ReopenCount       int
	TATExtensionCount int
	GroupID           *int64
	// GroupScope is read from the ticket's group and never written through the ticket.
	GroupScope      string
	State           TicketExtendedState
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DueAt           *time.Time
	ResolvedAt      *time.Time
	AcknowledgedAt  *time.Time
	ReopenedAt      *time.Time
	LastEscalatedAt *time.Time
	SLABreachedAt   *time.Time
}

// TicketExtendedState is the typed form of the ticket metadata column.
type TicketExtendedState struct {
	TAT           TATState         `json:"tat"`
	Fields        map[string]any   `json:"fields,omitempty"`
	ScopeTags     []string         `json:"scope_tags,omitempty"`
	Comments      []Comment        `json:"comments,omitempty"`
	Notifications NotificationRefs `json:"notifications"`
}

// TATState tracks the turnaround deadline for the current cycle.
type TATState struct {
	Text           string         `json:"tat,omitempty"`
	Date           *time.Time     `json:"tat_date,omitempty"`
	SetAt          *time.Time     `json:"tat_set_at,omitempty"`
	SetBy          string         `json:"tat_set_by,omitempty"`
	ExtensionCount int            `json:"tat_extensions,omitempty"`
	Extensions     []TATExtension `json:"extension_history,omitempty"`
	PauseStart     *time.Time     `json:"tat_paused_at,omitempty"`
	PausedDuration time.Duration  `json:"tat_paused_duration,omitempty"`
	Pauses         []TATPause     `json:"pause_history,omitempty"`
	LastReminderAt *time.Time     `json:"last_reminder_at,omitempty"`
}

// IsSet reports whether a deadline exists in this cycle.
func (s TATState) IsSet() bool {
	return s.Date != nil
}

// IsPaused reports whether the clock is currently stopped.
func (s TATState) IsPaused() bool {
	return s.PauseStart != nil
}

// TATExtension records one deadline change.
type TATExtension struct {
	PreviousTAT  string    `json:"previous_tat"`
	PreviousDate time.Time `json:"previous_date"`
	NewTAT       string    `json:"new_tat"`
	NewDate      time.Time `json:"new_date"`
	ExtendedAt   time.Time `json:"extended_at"`
	ExtendedBy   string    `json:"extended_by"`
}

// TATPause records one completed pause interval.
type TATPause struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Comment is a note attached to a ticket.
type Comment struct {
	ID         string    `json:"id"`
	AuthorID   string    `json:"author_id"`
	AuthorRole Role      `json:"author_role"`
	Body       string    `json:"body"`
	Internal   bool      `json:"internal,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// NotificationRefs keeps chat and email thread anchors for a ticket.
type NotificationRefs struct {
	ChatChannel    string `json:"chat_channel,omitempty"`
	ChatMessageRef string `json:"chat_message_ref,omitempty"`
	EmailMessageID string `json:"email_message_id,omitempty"`
}

// Clone returns a deep copy so in-flight mutations never leak into shared state.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.SubcategoryID = cloneInt64(t.SubcategoryID)
	c.SubSubcategoryID = cloneInt64(t.SubSubcategoryID)
	c.GroupID = cloneInt64(t.GroupID)
	if t.AssignedTo != nil {
		v := *t.AssignedTo
		c.AssignedTo = &v
	}
	c.DueAt = cloneTime(t.DueAt)
	c.ResolvedAt = cloneTime(t.ResolvedAt)
	c.AcknowledgedAt = cloneTime(t.AcknowledgedAt)
	c.ReopenedAt = cloneTime(t.ReopenedAt)
	c.LastEscalatedAt = cloneTime(t.LastEscalatedAt)
	c.SLABreachedAt = cloneTime(t.SLABreachedAt)
	c.State = t.State.clone()
	return &c
}

func (s TicketExtendedState) clone() TicketExtendedState {
	c := s
	c.TAT.Date = cloneTime(s.TAT.Date)
	c.TAT.SetAt = cloneTime(s.TAT.SetAt)
	c.TAT.PauseStart = cloneTime(s.TAT.PauseStart)
	c.TAT.LastReminderAt = cloneTime(s.TAT.LastReminderAt)
	c.TAT.Extensions = append([]TATExtension(nil), s.TAT.Extensions...)
	c.TAT.Pauses = append([]TATPause(nil), s.TAT.Pauses...)
	c.ScopeTags = append([]string(nil), s.ScopeTags...)
	c.Comments = append([]Comment(nil), s.Comments...)
	if s.Fields != nil {
		c.Fields = make(map[string]any, len(s.Fields))
		for k, v := range s.Fields {
			c.Fields[k] = v
		}
	}
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneInt64(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
