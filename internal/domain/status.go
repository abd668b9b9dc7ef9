package domain

// Well-known status codes seeded into ticket_statuses. The table stays authoritative;
// these constants name the codes the lifecycle rules refer to.
const (
	StatusOpen              = "open"
	StatusInProgress        = "in_progress"
	StatusAwaitingRequester = "awaiting_requester"
	StatusForwarded         = "forwarded"
	StatusEscalated         = "escalated"
	StatusReopened          = "reopened"
	StatusResolved          = "resolved"
	StatusClosed            = "closed"
)

// TicketStatus is a row of the dynamic status table.
type TicketStatus struct {
	Code       string
	Label      string
	Progress   int
	IsFinal    bool
	IsActive   bool
	IsResolved bool
	SortOrder  int
}
