package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
)

type referenceRepository struct {
	q Querier
}

// NewReferenceRepository builds repository.
func NewReferenceRepository(q Querier) ReferenceRepository {
	return &referenceRepository{q: q}
}

func (r *referenceRepository) ListStatuses(ctx context.Context) ([]domain.TicketStatus, error) {
	const query = `
        SELECT code, label, progress, is_final, is_active, is_resolved, sort_order
        FROM ticket_statuses ORDER BY sort_order ASC, code ASC`
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.TicketStatus
	for rows.Next() {
		var st domain.TicketStatus
		if err := rows.Scan(&st.Code, &st.Label, &st.Progress, &st.IsFinal, &st.IsActive, &st.IsResolved, &st.SortOrder); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

func (r *referenceRepository) GetCategory(ctx context.Context, id int64) (*domain.Category, error) {
	const query = `
        SELECT id, name, COALESCE(domain, ''), scope_sensitive, sla_hours, is_active
        FROM categories WHERE id=$1`
	var c domain.Category
	if err := r.q.QueryRow(ctx, query, id).Scan(&c.ID, &c.Name, &c.Domain, &c.ScopeSensitive, &c.SLAHours, &c.IsActive); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *referenceRepository) GetSubcategory(ctx context.Context, id int64) (*domain.Subcategory, error) {
	const query = `
        SELECT id, category_id, name, assignee_id, is_active
        FROM subcategories WHERE id=$1`
	var s domain.Subcategory
	if err := r.q.QueryRow(ctx, query, id).Scan(&s.ID, &s.CategoryID, &s.Name, &s.AssigneeID, &s.IsActive); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *referenceRepository) ListCategoryFields(ctx context.Context, subcategoryID int64) ([]domain.CategoryField, error) {
	const query = `
        SELECT id, subcategory_id, slug, display_order, owner_id
        FROM category_fields WHERE subcategory_id=$1
        ORDER BY display_order ASC, id ASC`
	rows, err := r.q.Query(ctx, query, subcategoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CategoryField
	for rows.Next() {
		var f domain.CategoryField
		if err := rows.Scan(&f.ID, &f.SubcategoryID, &f.Slug, &f.DisplayOrder, &f.OwnerID); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}

func (r *referenceRepository) ListCategoryAssignments(ctx context.Context, categoryID int64) ([]domain.CategoryAssignment, error) {
	const query = `
        SELECT category_id, party_id, is_primary, priority, created_at
        FROM category_assignments WHERE category_id=$1
        ORDER BY is_primary DESC, priority DESC, created_at ASC`
	rows, err := r.q.Query(ctx, query, categoryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CategoryAssignment
	for rows.Next() {
		var a domain.CategoryAssignment
		if err := rows.Scan(&a.CategoryID, &a.PartyID, &a.IsPrimary, &a.Priority, &a.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

func (r *referenceRepository) ListActiveParties(ctx context.Context, domainName string) ([]domain.User, error) {
	query, args, err := psql.Select(userColumns).From("users").
		Where(sq.Eq{"domain": domainName, "is_active": true}).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	return result, rows.Err()
}

func (r *referenceRepository) ListEscalationRules(ctx context.Context, domainName string) ([]domain.EscalationRule, error) {
	const query = `
        SELECT id, domain, COALESCE(scope, ''), level, party_id, COALESCE(channel, ''), is_active
        FROM escalation_rules WHERE domain=$1 AND is_active
        ORDER BY level ASC, scope NULLS LAST, id ASC`
	rows, err := r.q.Query(ctx, query, domainName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationRule
	for rows.Next() {
		var rule domain.EscalationRule
		if err := rows.Scan(&rule.ID, &rule.Domain, &rule.Scope, &rule.Level, &rule.PartyID, &rule.Channel, &rule.IsActive); err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}
