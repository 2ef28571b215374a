package wpcom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"wpsync/internal/wp"
)

// activityPageSize is the number of entries requested per sync.
const activityPageSize = 1000

// ActivityRemote implements wp.ActivityRemote on the v1.1 activity endpoint.
type ActivityRemote struct {
	client *Client
}

var _ wp.ActivityRemote = (*ActivityRemote)(nil)

func NewActivityRemote(client *Client) *ActivityRemote {
	return &ActivityRemote{client: client}
}

type activityJSON struct {
	TSUTC          int64           `json:"ts_utc"`
	BlogID         int64           `json:"blog_id"`
	Type           string          `json:"type"`
	ActionTrigger  string          `json:"action_trigger"`
	JetpackVersion string          `json:"jetpack_version"`
	Action         string          `json:"action"`
	Group          string          `json:"group"`
	Name           string          `json:"name"`
	Actor          activityActor   `json:"actor"`
	Object         json.RawMessage `json:"object"`
}

type activityActor struct {
	DisplayName    string `json:"display_name"`
	AvatarURL      string `json:"avatar_url"`
	TranslatedRole string `json:"translated_role"`
}

type activitiesJSON struct {
	Activities *[]activityJSON `json:"activities"`
}

func (r *ActivityRemote) GetActivityForSite(ctx context.Context, siteID int64) ([]wp.RemoteActivity, error) {
	query := url.Values{}
	query.Set("number", fmt.Sprint(activityPageSize))

	var payload activitiesJSON
	path := fmt.Sprintf("%ssites/%d/activity", apiVersion1_1, siteID)
	if err := r.client.get(ctx, path, query, &payload); err != nil {
		return nil, err
	}
	if payload.Activities == nil {
		return nil, fmt.Errorf("activity of site %d: %w", siteID, ErrDecodingFailure)
	}

	activities := make([]wp.RemoteActivity, 0, len(*payload.Activities))
	for _, a := range *payload.Activities {
		activities = append(activities, wp.RemoteActivity{
			ActivityID:     a.TSUTC,
			SiteID:         a.BlogID,
			Type:           a.Type,
			ActionTrigger:  a.ActionTrigger,
			JetpackVersion: a.JetpackVersion,
			Action:         a.Action,
			Group:          a.Group,
			Name:           a.Name,
			Actor: wp.RemoteActivityActor{
				DisplayName: a.Actor.DisplayName,
				AvatarURL:   a.Actor.AvatarURL,
				Role:        a.Actor.TranslatedRole,
			},
			Objects:   activityObjects(a.Object),
			Timestamp: time.Unix(a.TSUTC/1000, 0).UTC(),
		})
	}
	return activities, nil
}

// activityObjects keeps the object entries that are flat string maps and
// drops anything else.
func activityObjects(raw json.RawMessage) map[string]map[string]string {
	objects := make(map[string]map[string]string)
	if len(raw) == 0 {
		return objects
	}
	var entries map[string]json.RawMessage
	if json.Unmarshal(raw, &entries) != nil {
		return objects
	}
	for key, value := range entries {
		var fields map[string]string
		if json.Unmarshal(value, &fields) == nil && fields != nil {
			objects[key] = fields
		}
	}
	return objects
}
