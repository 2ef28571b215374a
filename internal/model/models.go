package model

import "time"

// Account is a stored account credential.
type Account struct {
	ID        int64  // WordPress.com user ID
	UUID      string // local identity, referenced by the current-account preference
	Username  string
	Token     string // plaintext OAuth token; sealed by the database layer
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Activity is one entry of a site's activity log.
type Activity struct {
	ID             string // UUID
	SiteID         int64
	ActivityID     int64 // remote ts_utc, unique per site
	Type           string
	ActionTrigger  string
	JetpackVersion string
	Action         string
	Group          string
	Name           string
	Timestamp      time.Time
	Actor          ActivityActor
	Objects        map[string]map[string]string
	SyncedAt       time.Time
}

// ActivityActor is the user or system that performed an activity.
type ActivityActor struct {
	DisplayName string
	AvatarURL   string
	Role        string
}
