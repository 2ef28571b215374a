package wp

import "fmt"

// SiteRef identifies a site as seen through one account. Two refs are equal
// when both fields match, so SiteRef is usable as a map key directly.
type SiteRef struct {
	SiteID    int64
	AccountID int64
}

func (s SiteRef) String() string {
	return fmt.Sprintf("site %d (account %d)", s.SiteID, s.AccountID)
}
