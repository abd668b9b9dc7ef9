// Package status holds the dynamic ticket status table in memory and maps
// user input onto its codes.
package status

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	apperrors "github.com/spec-kit/ticket-lifecycle/pkg/util/errorutil"
)

// Loader reads the status table.
type Loader interface {
	ListStatuses(ctx context.Context) ([]domain.TicketStatus, error)
}

// legacyAliases maps historical status names onto current codes. Aliases are
// only accepted as input; tickets always persist the canonical code.
var legacyAliases = map[string]string{
	"new":                       domain.StatusOpen,
	"pending":                   domain.StatusAwaitingRequester,
	"awaiting_response":         domain.StatusAwaitingRequester,
	"awaiting_student_response": domain.StatusAwaitingRequester,
	"awaiting_user":             domain.StatusAwaitingRequester,
	"pending_user":              domain.StatusAwaitingRequester,
	"inprogress":                domain.StatusInProgress,
	"acknowledged":              domain.StatusInProgress,
	"re_opened":                 domain.StatusReopened,
	"done":                      domain.StatusResolved,
	"completed":                 domain.StatusResolved,
	"fixed":                     domain.StatusResolved,
	"closed_by_student":         domain.StatusClosed,
	"closed_by_requester":       domain.StatusClosed,
	"resolved_by_requester":     domain.StatusClosed,
	"self_closed":               domain.StatusClosed,
}

// Registry is a read-mostly view of ticket_statuses.
type Registry struct {
	mu       sync.RWMutex
	byCode   map[string]domain.TicketStatus
	resolved string
}

// NewRegistry builds a registry from a status list.
func NewRegistry(statuses []domain.TicketStatus) (*Registry, error) {
	r := &Registry{}
	if err := r.replace(statuses); err != nil {
		return nil, err
	}
	return r, nil
}

// Load reads the table through loader and builds a registry.
func Load(ctx context.Context, loader Loader) (*Registry, error) {
	statuses, err := loader.ListStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("load statuses: %w", err)
	}
	return NewRegistry(statuses)
}

// Reload replaces the in-memory table.
func (r *Registry) Reload(ctx context.Context, loader Loader) error {
	statuses, err := loader.ListStatuses(ctx)
	if err != nil {
		return fmt.Errorf("reload statuses: %w", err)
	}
	return r.replace(statuses)
}

func (r *Registry) replace(statuses []domain.TicketStatus) error {
	byCode := make(map[string]domain.TicketStatus, len(statuses))
	resolved := ""
	for _, st := range statuses {
		code := normalize(st.Code)
		if code == "" {
			return fmt.Errorf("status with empty code")
		}
		if st.Progress < 0 || st.Progress > 100 {
			return fmt.Errorf("status %s: progress %d out of range", code, st.Progress)
		}
		if st.IsResolved {
			if !st.IsFinal {
				return fmt.Errorf("status %s: resolved status must be final", code)
			}
			if resolved != "" {
				return fmt.Errorf("statuses %s and %s are both flagged resolved", resolved, code)
			}
			resolved = code
		}
		st.Code = code
		byCode[code] = st
	}
	if resolved == "" {
		return fmt.Errorf("status table has no resolved status")
	}
	for _, required := range []string{domain.StatusOpen, domain.StatusReopened} {
		if _, ok := byCode[required]; !ok {
			return fmt.Errorf("status table is missing %q", required)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byCode = byCode
	r.resolved = resolved
	return nil
}

// Canonicalize maps free-form input onto a status code. The result may still
// be unknown to the table.
func (r *Registry) Canonicalize(input string) string {
	code := normalize(input)
	r.mu.RLock()
	_, known := r.byCode[code]
	r.mu.RUnlock()
	if known {
		return code
	}
	if alias, ok := legacyAliases[code]; ok {
		return alias
	}
	return code
}

// Resolve canonicalizes input and returns the matching active status.
func (r *Registry) Resolve(input string) (domain.TicketStatus, error) {
	code := r.Canonicalize(input)
	st, ok := r.Lookup(code)
	if !ok || !st.IsActive {
		return domain.TicketStatus{}, apperrors.NewInvalidStatus(input)
	}
	return st, nil
}

// Lookup returns the status for an exact code, active or not.
func (r *Registry) Lookup(code string) (domain.TicketStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.byCode[code]
	return st, ok
}

// IsFinal reports whether code names a final status. Unknown codes are not final.
func (r *Registry) IsFinal(code string) bool {
	st, ok := r.Lookup(code)
	return ok && st.IsFinal
}

// FinalCodes lists every final status code in a stable order.
func (r *Registry) FinalCodes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for code, st := range r.byCode {
		if st.IsFinal {
			out = append(out, code)
		}
	}
	sort.Strings(out)
	return out
}

// ResolvedCode returns the final status used for SLA "resolved" reporting.
func (r *Registry) ResolvedCode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolved
}

// All returns the table ordered for display.
func (r *Registry) All() []domain.TicketStatus {
	r.mu.RLock()
	out := make([]domain.TicketStatus, 0, len(r.byCode))
	for _, st := range r.byCode {
		out = append(out, st)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Code < out[j].Code
	})
	return out
}

func normalize(input string) string {
	s := strings.ToLower(strings.TrimSpace(input))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}
