package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/ticket-lifecycle/internal/domain"
	"github.com/spec-kit/ticket-lifecycle/internal/status"
)

func statusByCode(code string) domain.TicketStatus {
	for _, st := range status.Defaults() {
		if st.Code == code {
			return st
		}
	}
	panic("unknown status " + code)
}

func TestCanTransition(t *testing.T) {
	creator := Relation{IsCreator: true}
	stranger := Relation{}
	scoped := Relation{InScope: true}

	cases := []struct {
		name    string
		role    domain.Role
		rel     Relation
		current string
		target  string
		want    bool
	}{
		{"requester self-closes active ticket", domain.RoleRequester, creator, domain.StatusInProgress, domain.StatusClosed, true},
		{"requester self-closes open ticket", domain.RoleRequester, creator, domain.StatusOpen, domain.StatusClosed, true},
		{"requester reopens final ticket", domain.RoleRequester, creator, domain.StatusResolved, domain.StatusReopened, true},
		{"requester self-closes awaiting ticket", domain.RoleRequester, creator, domain.StatusAwaitingRequester, domain.StatusClosed, true},
		{"requester self-closes reopened ticket", domain.RoleRequester, creator, domain.StatusReopened, domain.StatusClosed, true},
		{"requester cannot close escalated ticket", domain.RoleRequester, creator, domain.StatusEscalated, domain.StatusClosed, false},
		{"requester cannot close forwarded ticket", domain.RoleRequester, creator, domain.StatusForwarded, domain.StatusClosed, false},
		{"requester cannot resolve", domain.RoleRequester, creator, domain.StatusInProgress, domain.StatusResolved, false},
		{"requester cannot reopen active ticket", domain.RoleRequester, creator, domain.StatusInProgress, domain.StatusReopened, false},
		{"requester cannot close final ticket", domain.RoleRequester, creator, domain.StatusResolved, domain.StatusClosed, false},
		{"requester on someone else's ticket", domain.RoleRequester, stranger, domain.StatusInProgress, domain.StatusClosed, false},
		{"committee in scope", domain.RoleCommittee, scoped, domain.StatusOpen, domain.StatusResolved, true},
		{"committee out of scope", domain.RoleCommittee, stranger, domain.StatusOpen, domain.StatusResolved, false},
		{"admin anything", domain.RoleAdmin, stranger, domain.StatusOpen, domain.StatusEscalated, true},
		{"super admin anything", domain.RoleSuperAdmin, stranger, domain.StatusClosed, domain.StatusInProgress, true},
		{"system sweep", domain.RoleSystem, stranger, domain.StatusInProgress, domain.StatusEscalated, true},
		{"unknown role", domain.Role("guest"), creator, domain.StatusOpen, domain.StatusClosed, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CanTransition(tc.role, tc.rel, statusByCode(tc.current), statusByCode(tc.target))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRelationOf(t *testing.T) {
	ticket := &domain.Ticket{CreatedBy: "u1", GroupScope: "block-a", State: domain.TicketExtendedState{ScopeTags: []string{"mess"}}}

	assert.Equal(t, Relation{IsCreator: true}, RelationOf(domain.Actor{ID: "u1", Role: domain.RoleRequester}, ticket))
	assert.Equal(t, Relation{InScope: true}, RelationOf(domain.Actor{ID: "c1", Role: domain.RoleCommittee, Scopes: []string{"block-a"}}, ticket))
	assert.Equal(t, Relation{InScope: true}, RelationOf(domain.Actor{ID: "c2", Role: domain.RoleCommittee, Scopes: []string{"mess"}}, ticket))
	assert.Equal(t, Relation{}, RelationOf(domain.Actor{ID: "c3", Role: domain.RoleCommittee, Scopes: []string{"library"}}, ticket))
}

func TestSecondaryCapabilities(t *testing.T) {
	assert.True(t, CanManage(domain.RoleAdmin, Relation{}))
	assert.True(t, CanManage(domain.RoleCommittee, Relation{InScope: true}))
	assert.False(t, CanManage(domain.RoleRequester, Relation{IsCreator: true}))

	assert.True(t, CanForward(domain.RoleSuperAdmin))
	assert.False(t, CanForward(domain.RoleCommittee))

	assert.True(t, CanComment(domain.RoleRequester, Relation{IsCreator: true}))
	assert.False(t, CanComment(domain.RoleRequester, Relation{}))

	assigned := "p1"
	ticket := &domain.Ticket{CreatedBy: "u1", AssignedTo: &assigned}
	assert.True(t, CanView(domain.Actor{ID: "p1", Role: domain.RoleCommittee}, ticket))
	assert.False(t, CanView(domain.Actor{ID: "u2", Role: domain.RoleRequester}, ticket))
}
