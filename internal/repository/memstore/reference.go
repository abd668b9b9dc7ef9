package memstore

import (
	"context"
	"sort"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/repository"
)

type referenceRepo struct {
	s *Store
}

func (r *referenceRepo) ListStatuses(context.Context) ([]domain.TicketStatus, error) {
	r.s.refMu.RLock()
	defer r.s.refMu.RUnlock()
	out := append([]domain.TicketStatus(nil), r.s.ref.statuses...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (r *referenceRepo) GetCategory(_ context.Context, id int64) (*domain.Category, error) {
	r.s.refMu.RLock()
	defer r.s.refMu.RUnlock()
	c, ok := r.s.ref.categories[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

func (r *referenceRepo) GetSubcategory(_ context.Context, id int64) (*domain.Subcategory, error) {
	r.s.refMu.RLock()
	defer r.s.refMu.RUnlock()
	sub, ok := r.s.ref.subcategories[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &sub, nil
}

func (r *referenceRepo) ListCategoryFields(_ context.Context, subcategoryID int64) ([]domain.CategoryField, error) {
	r.s.refMu.RLock()
	defer r.s.refMu.RUnlock()
	var result []domain.CategoryField
	for _, f := range r.s.ref.fields {
		if f.SubcategoryID == subcategoryID {
			result = append(result, f)
		}
	}
	return result, nil
}

func (r *referenceRepo) ListCategoryAssignments(_ context.Context, categoryID int64) ([]domain.CategoryAssignment, error) {
	r.s.refMu.RLock()
	defer r.s.refMu.RUnlock()
	var result []domain.CategoryAssignment
	for _, a := range r.s.ref.assignments {
		if a.CategoryID == categoryID {
			result = append(result, a)
		}
	}
	return result, nil
}

func (r *referenceRepo) ListActiveParties(_ context.Context, domainName string) ([]domain.User, error) {
	r.s.refMu.RLock()
	defer r.s.refMu.RUnlock()
	var result []domain.User
	for _, u := range r.s.ref.users {
		if u.IsActive && u.Domain == domainName {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r *referenceRepo) ListEscalationRules(_ context.Context, domainName string) ([]domain.EscalationRule, error) {
	r.s.refMu.RLock()
	defer r.s.refMu.RUnlock()
	var result []domain.EscalationRule
	for _, rule := range r.s.ref.rules {
		if rule.IsActive && rule.Domain == domainName {
			result = append(result, rule)
		}
	}
	return result, nil
}

type userRepo struct {
	s *Store
}

func (r *userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.refMu.RLock()
	defer r.s.refMu.RUnlock()
	u, ok := r.s.ref.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}
