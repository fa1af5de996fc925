// Package session owns the client's authentication lifecycle: restoring a
// persisted session at startup, verifying it against the backend,
// refreshing expired tokens, detecting deleted accounts, and tearing the
// session down. It is the single authority for whether the user is logged
// in; everything else only observes.
package session

import "encoding/json"

// User is the locally persisted identity record.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
}

// valid reports whether the record carries the required identity fields.
func (u *User) valid() bool {
	return u != nil && u.ID != "" && u.Email != ""
}

func decodeUser(raw string) (*User, bool) {
	var u User
	if err := json.Unmarshal([]byte(raw), &u); err != nil {
		return nil, false
	}
	if !u.valid() {
		return nil, false
	}
	return &u, true
}

// Persisted store keys. All of them are removed together on teardown.
const (
	keyToken        = "nutriplan_token"
	keyUser         = "nutriplan_user"
	keyRefreshToken = "nutriplan_refresh_token"
	keySessionID    = "nutriplan_session_id"
	keySubscription = "nutriplan_subscription_status"
)

// EndReason explains a terminal session event.
type EndReason string

const (
	// ReasonAccountDeleted means the backend confirmed the account no
	// longer exists. This is the one user-visible terminal failure.
	ReasonAccountDeleted EndReason = "account_deleted"

	// ReasonSignedOut means the user explicitly signed out.
	ReasonSignedOut EndReason = "signed_out"
)

// Event is delivered to the registered handler when a session ends.
type Event struct {
	Reason EndReason
}
