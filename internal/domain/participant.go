package domain

import "time"

const MaxDisplayNameLen = 50

// Participant is one member of a session. Owned exclusively by its
// session; removed when the underlying connection drops.
type Participant struct {
	ConnID      ConnID    `json:"connId"`
	DisplayName string    `json:"displayName"`
	Role        Role      `json:"role"`
	JoinedAt    time.Time `json:"joinedAt"`
	Muted       bool      `json:"muted"`
	VideoOff    bool      `json:"videoOff"`
}

// NewParticipant validates the display name and keeps construction in one
// place instead of ad-hoc struct literals in adapters.
func NewParticipant(conn ConnID, name string, role Role) (*Participant, error) {
	if len(name) == 0 {
		return nil, ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return nil, ErrNameTooLong
	}
	return &Participant{
		ConnID:      conn,
		DisplayName: name,
		Role:        role,
		JoinedAt:    time.Now(),
	}, nil
}
