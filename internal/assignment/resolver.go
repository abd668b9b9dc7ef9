// Package assignment decides who owns a new ticket.
package assignment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

// Source names the rule that produced a resolution.
type Source string

const (
	SourceField       Source = "field"
	SourceSubcategory Source = "subcategory"
	SourceCategory    Source = "category"
	SourceDomainScope Source = "domain_scope"
	SourceDomain      Source = "domain"
	SourceFallback    Source = "fallback"
	SourceNone        Source = "none"
)

// Lookup is the read-only reference data the resolver needs.
type Lookup interface {
	GetCategory(ctx context.Context, id int64) (*domain.Category, error)
	GetSubcategory(ctx context.Context, id int64) (*domain.Subcategory, error)
	ListCategoryFields(ctx context.Context, subcategoryID int64) ([]domain.CategoryField, error)
	ListCategoryAssignments(ctx context.Context, categoryID int64) ([]domain.CategoryAssignment, error)
	ListActiveParties(ctx context.Context, domainName string) ([]domain.User, error)
}

// Request carries the ticket attributes resolution depends on.
type Request struct {
	CategoryID    int64
	SubcategoryID *int64
	Location      string
	Fields        map[string]any
}

// Resolution is the chosen party. PartyID is empty when nothing matched and
// no fallback is configured.
type Resolution struct {
	PartyID string
	Source  Source
}

// Resolver walks field, subcategory, category, domain and fallback rules in
// that order. It never writes.
type Resolver struct {
	lookup       Lookup
	superAdminID string
}

// NewResolver builds a resolver. superAdminID is the last-resort assignee.
func NewResolver(lookup Lookup, superAdminID string) *Resolver {
	return &Resolver{lookup: lookup, superAdminID: superAdminID}
}

// Resolve returns the first matching party.
func (r *Resolver) Resolve(ctx context.Context, req Request) (Resolution, error) {
	category, err := r.lookup.GetCategory(ctx, req.CategoryID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load category %d: %w", req.CategoryID, err)
	}

	if req.SubcategoryID != nil {
		if id, err := r.fromFields(ctx, *req.SubcategoryID, req.Fields); err != nil {
			return Resolution{}, err
		} else if id != "" {
			return Resolution{PartyID: id, Source: SourceField}, nil
		}

		sub, err := r.lookup.GetSubcategory(ctx, *req.SubcategoryID)
		if err != nil {
			return Resolution{}, fmt.Errorf("load subcategory %d: %w", *req.SubcategoryID, err)
		}
		if sub.AssigneeID != nil && *sub.AssigneeID != "" {
			return Resolution{PartyID: *sub.AssigneeID, Source: SourceSubcategory}, nil
		}
	}

	if id, err := r.fromCategory(ctx, category.ID); err != nil {
		return Resolution{}, err
	} else if id != "" {
		return Resolution{PartyID: id, Source: SourceCategory}, nil
	}

	if category.Domain != "" {
		res, err := r.fromDomain(ctx, category, req.Location)
		if err != nil {
			return Resolution{}, err
		}
		if res.PartyID != "" {
			return res, nil
		}
	}

	if r.superAdminID != "" {
		return Resolution{PartyID: r.superAdminID, Source: SourceFallback}, nil
	}
	return Resolution{Source: SourceNone}, nil
}

func (r *Resolver) fromFields(ctx context.Context, subcategoryID int64, values map[string]any) (string, error) {
	if len(values) == 0 {
		return "", nil
	}
	fields, err := r.lookup.ListCategoryFields(ctx, subcategoryID)
	if err != nil {
		return "", fmt.Errorf("load fields for subcategory %d: %w", subcategoryID, err)
	}
	sort.SliceStable(fields, func(i, j int) bool {
		if fields[i].DisplayOrder != fields[j].DisplayOrder {
			return fields[i].DisplayOrder < fields[j].DisplayOrder
		}
		return fields[i].ID < fields[j].ID
	})
	for _, f := range fields {
		if f.OwnerID == nil || *f.OwnerID == "" {
			continue
		}
		if hasValue(values[f.Slug]) {
			return *f.OwnerID, nil
		}
	}
	return "", nil
}

func (r *Resolver) fromCategory(ctx context.Context, categoryID int64) (string, error) {
	assignments, err := r.lookup.ListCategoryAssignments(ctx, categoryID)
	if err != nil {
		return "", fmt.Errorf("load category assignments %d: %w", categoryID, err)
	}
	if len(assignments) == 0 {
		return "", nil
	}
	sort.SliceStable(assignments, func(i, j int) bool {
		a, b := assignments[i], assignments[j]
		if a.IsPrimary != b.IsPrimary {
			return a.IsPrimary
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return assignments[0].PartyID, nil
}

func (r *Resolver) fromDomain(ctx context.Context, category *domain.Category, location string) (Resolution, error) {
	parties, err := r.lookup.ListActiveParties(ctx, category.Domain)
	if err != nil {
		return Resolution{}, fmt.Errorf("load parties for domain %s: %w", category.Domain, err)
	}
	sort.SliceStable(parties, func(i, j int) bool {
		if !parties[i].CreatedAt.Equal(parties[j].CreatedAt) {
			return parties[i].CreatedAt.Before(parties[j].CreatedAt)
		}
		return parties[i].ID < parties[j].ID
	})

	location = strings.TrimSpace(location)
	if category.ScopeSensitive && location != "" {
		for _, p := range parties {
			if p.IsActive && strings.EqualFold(p.Scope, location) {
				return Resolution{PartyID: p.ID, Source: SourceDomainScope}, nil
			}
		}
	}
	for _, p := range parties {
		if p.IsActive && p.Scope == "" {
			return Resolution{PartyID: p.ID, Source: SourceDomain}, nil
		}
	}
	return Resolution{}, nil
}

func hasValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		return len(val) > 0
	case []string:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	}
	return true
}
