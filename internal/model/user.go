package model

import "time"

// DeletedUserName is shown in place of a counterpart whose account no longer exists.
const DeletedUserName = "Deleted user"

type User struct {
	ID            string    `json:"_id"`
	Username      string    `json:"username"`
	DisplayName   string    `json:"displayName,omitempty"`
	ProfileImage  string    `json:"profileImage,omitempty"`
	IsOnline      bool      `json:"isOnline"`
	LastSeen      time.Time `json:"lastSeen,omitempty"`
	AllowMessages bool      `json:"allowMessages"`
}

// Missing reports whether the reference points at an account that was removed.
// The collaborator keeps the id but drops the profile fields.
func (u *User) Missing() bool {
	return u == nil || u.ID == "" || u.Username == ""
}

// Name returns the label used for the user in lists and headers.
func (u *User) Name() string {
	if u.Missing() {
		return DeletedUserName
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Presence is the online/offline state of one user.
type Presence struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}
