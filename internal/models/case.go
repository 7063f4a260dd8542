package models

import "time"

// Case is the aggregate container for a set of timeline events, with its own
// access control and open/closed lifecycle.
type Case struct {
	GUID        string     `json:"guid"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	TSID        string     `json:"tsid,omitempty"`
	Created     *time.Time `json:"created,omitempty"`
	Updated     *time.Time `json:"updated,omitempty"`

	// Closed is empty while the case is open and carries the close timestamp
	// once it is closed.
	Closed string `json:"closed,omitempty"`

	// ACS lists the users and groups permitted to view the case.
	ACS []string `json:"acs"`

	// UTCDisplay selects UTC day-bucketing instead of the configured local zone.
	UTCDisplay bool `json:"utc_display"`

	// Managed marks the case read-only independently of its closed state.
	Managed bool `json:"managed"`
}

// IsClosed reports whether the case carries a close timestamp.
func (c *Case) IsClosed() bool {
	return c.Closed != ""
}

// Viewable reports whether the given user or any of their groups appears in
// the case's access-control subject list. An empty ACS denies nobody.
func (c *Case) Viewable(username string, groups []string) bool {
	if len(c.ACS) == 0 {
		return true
	}
	for _, subject := range c.ACS {
		if subject == username {
			return true
		}
		for _, g := range groups {
			if subject == g {
				return true
			}
		}
	}
	return false
}

// CasePatch is a partial case update. Nil fields are left untouched by the
// backend.
type CasePatch struct {
	Name        *string   `json:"name,omitempty"`
	Description *string   `json:"description,omitempty"`
	TSID        *string   `json:"tsid,omitempty"`
	Closed      *string   `json:"closed,omitempty"`
	ACS         *[]string `json:"acs,omitempty"`
	UTCDisplay  *bool     `json:"utc_display,omitempty"`
}
