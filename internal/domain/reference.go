package domain

import "time"

// Category is the top level of the ticket taxonomy.
type Category struct {
	ID     int64
	Name   string
	Domain string
	// ScopeSensitive means the domain's parties are split by location.
	ScopeSensitive bool
	SLAHours       int
	IsActive       bool
}

// Subcategory narrows a category and may carry a direct assignee.
type Subcategory struct {
	ID         int64
	CategoryID int64
	Name       string
	AssigneeID *string
	IsActive   bool
}

// CategoryField is a dynamic form field that may be owned by a party.
type CategoryField struct {
	ID            int64
	SubcategoryID int64
	Slug          string
	DisplayOrder  int
	OwnerID       *string
}

// CategoryAssignment links a party to a category.
type CategoryAssignment struct {
	CategoryID int64
	PartyID    string
	IsPrimary  bool
	Priority   int
	CreatedAt  time.Time
}

// TicketGroup bundles tickets that are archived together.
type TicketGroup struct {
	ID         int64
	Name       string
	Scope      string
	IsArchived bool
	ArchivedAt *time.Time
}
