package graph

import "github.com/tonimelisma/msod-stat/internal/driveid"

// User is the authenticated account the client is acting as.
type User struct {
	ID          string
	DisplayName string
	Email       string
}

// Drive is one OneDrive/SharePoint drive accessible to the authenticated
// user — the orchestrator runs one sync pipeline per Drive.
type Drive struct {
	ID         driveid.ID
	Name       string
	DriveType  string // "personal", "business", or "documentLibrary"
	OwnerName  string
	OwnerEmail string
	QuotaUsed  int64
	QuotaTotal int64
}
