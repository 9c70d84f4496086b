package main

import (
	"github.com/n0remac/confsfu/internal/meeting"
)

// membershipAdapter wraps the meeting registry into the two narrow
// membership interfaces telemetry and ack each declare, so neither package
// needs to import meeting directly.
type membershipAdapter struct {
	registry *meeting.Registry
}

// ListRecipientUserIDs implements telemetry.MembershipSource.
func (m membershipAdapter) ListRecipientUserIDs(meetingID string) []string {
	sessions := m.registry.ListRecipients(meetingID, "")
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.UserID)
	}
	return ids
}

// ListRecipientUserIDsOrdered implements ack.MembershipSource. The registry
// preserves join order, so this is the same data as ListRecipientUserIDs.
func (m membershipAdapter) ListRecipientUserIDsOrdered(meetingID string) []string {
	return m.ListRecipientUserIDs(meetingID)
}
