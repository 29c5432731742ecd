package models

import (
	"github.com/google/uuid"
)

// Team is the membership record provided by the team collaborator.
type Team struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	ManagerID uuid.UUID   `json:"manager_id"`
	MemberIDs []uuid.UUID `json:"member_ids"`
}

// HasMember reports whether id is the manager or one of the members.
func (t *Team) HasMember(id uuid.UUID) bool {
	if t.ManagerID == id {
		return true
	}
	for _, m := range t.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}
