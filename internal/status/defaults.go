package status

import "github.com/spec-kit/ticket-lifecycle/internal/domain"

// Defaults mirrors the seed rows of the ticket_statuses migration. It backs
// the in-memory store and tests.
func Defaults() []domain.TicketStatus {
	return []domain.TicketStatus{
		{Code: domain.StatusOpen, Label: "Open", Progress: 0, IsActive: true, SortOrder: 1},
		{Code: domain.StatusInProgress, Label: "In Progress", Progress: 40, IsActive: true, SortOrder: 2},
		{Code: domain.StatusAwaitingRequester, Label: "Awaiting Requester", Progress: 50, IsActive: true, SortOrder: 3},
		{Code: domain.StatusForwarded, Label: "Forwarded", Progress: 30, IsActive: true, SortOrder: 4},
		{Code: domain.StatusEscalated, Label: "Escalated", Progress: 60, IsActive: true, SortOrder: 5},
		{Code: domain.StatusReopened, Label: "Reopened", Progress: 20, IsActive: true, SortOrder: 6},
		{Code: domain.StatusResolved, Label: "Resolved", Progress: 100, IsFinal: true, IsActive: true, IsResolved: true, SortOrder: 7},
		{Code: domain.StatusClosed, Label: "Closed", Progress: 100, IsFinal: true, IsActive: true, SortOrder: 8},
	}
}
