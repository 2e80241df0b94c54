package services

import (
	"testing"

	"roomcast/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func participant(conn string, role domain.Role) domain.Participant {
	return domain.Participant{
		ID:     domain.ParticipantID("user-" + conn),
		Name:   conn,
		Role:   role,
		ConnID: domain.ConnID(conn),
	}
}

func TestPresenceTracker_ReplaceRoster(t *testing.T) {
	tracker := NewPresenceTracker()

	change := tracker.ReplaceRoster([]domain.Participant{
		participant("p1", domain.RolePresenter),
		participant("v1", domain.RoleViewer),
		participant("v2", domain.RoleViewer),
	})
	assert.Len(t, change.Added, 3)
	assert.Empty(t, change.Removed)
	assert.Equal(t, 3, tracker.Count())

	change = tracker.ReplaceRoster([]domain.Participant{
		participant("p1", domain.RolePresenter),
		participant("v2", domain.RoleViewer),
		participant("v3", domain.RoleViewer),
	})
	require.Len(t, change.Added, 1)
	require.Len(t, change.Removed, 1)
	assert.Equal(t, domain.ConnID("v3"), change.Added[0].ConnID)
	assert.Equal(t, domain.ConnID("v1"), change.Removed[0].ConnID)
	assert.Equal(t, []domain.ConnID{"v2", "v3"}, tracker.ViewerConns())
}

func TestPresenceTracker_EmptyRosterIsValid(t *testing.T) {
	tracker := NewPresenceTracker()
	change := tracker.ReplaceRoster(nil)

	assert.Empty(t, change.Added)
	assert.Empty(t, change.Roster)
	assert.Zero(t, tracker.Count())
}

func TestPresenceTracker_SkipsDuplicatesAndEmptyConnIDs(t *testing.T) {
	tracker := NewPresenceTracker()
	tracker.ReplaceRoster([]domain.Participant{
		participant("v1", domain.RoleViewer),
		participant("v1", domain.RoleViewer),
		{Name: "ghost", Role: domain.RoleViewer},
	})

	assert.Equal(t, 1, tracker.Count())
}

func TestPresenceTracker_ByRole(t *testing.T) {
	tracker := NewPresenceTracker()
	tracker.ReplaceRoster([]domain.Participant{
		participant("p1", domain.RolePresenter),
		participant("m1", domain.RoleModerator),
		participant("v1", domain.RoleViewer),
	})

	assert.Len(t, tracker.ByRole(domain.RolePresenter), 1)
	assert.Len(t, tracker.ByRole(domain.RoleModerator), 1)
	assert.Equal(t, []domain.ConnID{"v1"}, tracker.ViewerConns())

	p, ok := tracker.Get("m1")
	require.True(t, ok)
	assert.Equal(t, domain.RoleModerator, p.Role)
}

func TestPresenceTracker_NoticesDoNotChangeRoster(t *testing.T) {
	tracker := NewPresenceTracker()
	tracker.ReplaceRoster([]domain.Participant{participant("p1", domain.RolePresenter)})

	var notices []bool
	tracker.SubscribeNotices(func(joined bool, p domain.Participant) {
		notices = append(notices, joined)
	})

	tracker.NoteJoin(participant("v1", domain.RoleViewer))
	tracker.NoteLeave(participant("p1", domain.RolePresenter))

	assert.Equal(t, []bool{true, false}, notices)
	assert.Equal(t, 1, tracker.Count())
	_, ok := tracker.Get("p1")
	assert.True(t, ok)
}

func TestPresenceTracker_Subscribe(t *testing.T) {
	tracker := NewPresenceTracker()

	var changes []RosterChange
	tracker.Subscribe(func(change RosterChange) {
		changes = append(changes, change)
	})

	tracker.ReplaceRoster([]domain.Participant{participant("v1", domain.RoleViewer)})
	tracker.Clear()

	require.Len(t, changes, 2)
	assert.Len(t, changes[1].Removed, 1)
	assert.Empty(t, changes[1].Roster)
}
