// Package twitchapi contains the Twitch Helix integration core: app token
// management, sliding-window rate limiting, circuit breaking, and typed
// wrappers for the endpoints the trackers poll.
package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// User is a resolved Helix user.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream is one live broadcast. ID is the session id used to deduplicate
// notifications across polls; an empty data array means offline.
type Stream struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	UserLogin    string    `json:"user_login"`
	Title        string    `json:"title"`
	GameID       string    `json:"game_id"`
	GameName     string    `json:"game_name"`
	ViewerCount  int       `json:"viewer_count"`
	StartedAt    time.Time `json:"started_at"`
	ThumbnailURL string    `json:"thumbnail_url"`
}

// ScheduleSegment is a single planned calendar entry. Read-only; fetched per
// cycle and never persisted beyond the current synchronization pass.
type ScheduleSegment struct {
	ID       string
	Start    time.Time
	End      time.Time
	Title    string
	Category string
}

// Game is category metadata used for display only.
type Game struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BoxArtURL string `json:"box_art_url"`
}

// GetUsers resolves login names to Helix users in one batch call. Logins
// absent from the response do not exist upstream (deleted/renamed accounts).
func (c *Client) GetUsers(ctx context.Context, logins []string) ([]User, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	params := url.Values{}
	for _, l := range logins {
		params.Add("login", l)
	}
	var body struct {
		Data []User `json:"data"`
	}
	if err := c.Get(ctx, "/users", params, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetStreams fetches live status for the given user ids in one batch call.
// Users not present in the result are offline.
func (c *Client) GetStreams(ctx context.Context, userIDs []string) ([]Stream, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	params := url.Values{}
	for _, id := range userIDs {
		params.Add("user_id", id)
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := c.Get(ctx, "/streams", params, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetSchedule fetches upcoming schedule segments for a broadcaster. A 404 is
// a valid "no schedule configured" response and yields an empty slice.
func (c *Client) GetSchedule(ctx context.Context, broadcasterID string, first int) ([]ScheduleSegment, error) {
	params := url.Values{}
	params.Set("broadcaster_id", broadcasterID)
	if first > 0 {
		params.Set("first", strconv.Itoa(first))
	}
	var body struct {
		Data struct {
			Segments []struct {
				ID        string    `json:"id"`
				StartTime time.Time `json:"start_time"`
				EndTime   time.Time `json:"end_time"`
				Title     string    `json:"title"`
				Category  *struct {
					Name string `json:"name"`
				} `json:"category"`
			} `json:"segments"`
		} `json:"data"`
	}
	if err := c.Get(ctx, "/schedule", params, &body); err != nil {
		var de *DataError
		if errors.As(err, &de) && de.Status == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	out := make([]ScheduleSegment, 0, len(body.Data.Segments))
	for _, s := range body.Data.Segments {
		seg := ScheduleSegment{ID: s.ID, Start: s.StartTime, End: s.EndTime, Title: s.Title}
		if s.Category != nil {
			seg.Category = s.Category.Name
		}
		out = append(out, seg)
	}
	return out, nil
}

// GetGame fetches category metadata for display. Non-critical: callers must
// tolerate failure without blocking their cycle.
func (c *Client) GetGame(ctx context.Context, id string) (*Game, error) {
	if id == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("id", id)
	var body struct {
		Data []Game `json:"data"`
	}
	if err := c.Get(ctx, "/games", params, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}
