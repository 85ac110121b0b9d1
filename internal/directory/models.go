package directory

import "time"

// Role classifies a directory entry for routing purposes.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleContractor Role = "contractor"
	RoleGuest      Role = "guest"
)

// Status is a user's reachability state.
//
// For the local identity it is derived exclusively by the presence tracker
// while tracking is active. For remote identities it is read-only input
// applied by the remote presence feed.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// Location is a last-known coordinate pair for a directory entry.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Entry is one person or endpoint in the site directory.
//
// The core only reads entries; status and location are written through
// SetPresence (presence tracker for the local user, presence feed for
// remote users). Everything else is owned by the directory source.
type Entry struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"display_name"`
	Role        Role      `json:"role"`
	PhoneNumber string    `json:"phone_number"`
	Status      Status    `json:"status"`
	Location    *Location `json:"location,omitempty"`
	SiteID      string    `json:"site_id,omitempty"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
}
