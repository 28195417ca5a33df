package twitchapi

import (
	"context"
	"net/http"
	"testing"
)

func TestGetUsers_BatchesLogins(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["login"]; len(got) != 2 || got[0] != "foo" || got[1] != "bar" {
			t.Errorf("login params = %v, want [foo bar]", got)
		}
		w.Write([]byte(`{"data":[{"id":"1","login":"foo","display_name":"Foo"}]}`))
	})
	users, err := c.GetUsers(context.Background(), []string{"foo", "bar"})
	if err != nil {
		t.Fatalf("GetUsers() error = %v", err)
	}
	// bar is absent from the response: deleted or renamed upstream.
	if len(users) != 1 || users[0].ID != "1" || users[0].Login != "foo" {
		t.Errorf("GetUsers() = %+v, want only foo", users)
	}
}

func TestGetUsers_EmptyInputSkipsCall(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected API call for empty login list")
	})
	users, err := c.GetUsers(context.Background(), nil)
	if err != nil || users != nil {
		t.Errorf("GetUsers(nil) = %v, %v, want nil, nil", users, err)
	}
}

func TestGetStreams_AbsentMeansOffline(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query()["user_id"]; len(got) != 2 {
			t.Errorf("user_id params = %v, want 2 ids", got)
		}
		w.Write([]byte(`{"data":[{"id":"sess-1","user_id":"1","user_login":"foo","title":"hi","game_name":"Tetris","viewer_count":3,"started_at":"2026-09-01T12:00:00Z"}]}`))
	})
	streams, err := c.GetStreams(context.Background(), []string{"1", "2"})
	if err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if len(streams) != 1 || streams[0].ID != "sess-1" || streams[0].GameName != "Tetris" {
		t.Errorf("GetStreams() = %+v, want one live stream sess-1", streams)
	}
}

func TestGetSchedule_ParsesSegments(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("broadcaster_id"); got != "42" {
			t.Errorf("broadcaster_id = %q, want 42", got)
		}
		w.Write([]byte(`{"data":{"segments":[
			{"id":"seg-1","start_time":"2026-09-02T18:00:00Z","end_time":"2026-09-02T20:00:00Z","title":"ranked","category":{"name":"Tetris"}},
			{"id":"seg-2","start_time":"2026-09-03T18:00:00Z","end_time":"2026-09-03T20:00:00Z","title":"chill","category":null}
		]}}`))
	})
	segments, err := c.GetSchedule(context.Background(), "42", 10)
	if err != nil {
		t.Fatalf("GetSchedule() error = %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("GetSchedule() returned %d segments, want 2", len(segments))
	}
	if segments[0].Category != "Tetris" || segments[1].Category != "" {
		t.Errorf("categories = %q/%q, want Tetris and empty", segments[0].Category, segments[1].Category)
	}
	if segments[0].Start.IsZero() || !segments[0].End.After(segments[0].Start) {
		t.Errorf("segment times = %v..%v, want parsed range", segments[0].Start, segments[0].End)
	}
}

func TestGetSchedule_NotFoundMeansNoSchedule(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Not Found","message":"the broadcaster has not created a streaming schedule"}`))
	})
	segments, err := c.GetSchedule(context.Background(), "42", 10)
	if err != nil {
		t.Fatalf("GetSchedule() on 404 = %v, want nil error", err)
	}
	if segments != nil {
		t.Errorf("GetSchedule() on 404 = %v, want empty", segments)
	}
}

func TestGetGame_MissingIsNil(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[]}`))
	})
	g, err := c.GetGame(context.Background(), "999")
	if err != nil || g != nil {
		t.Errorf("GetGame() = %v, %v, want nil, nil for unknown id", g, err)
	}
	if g, err := c.GetGame(context.Background(), ""); err != nil || g != nil {
		t.Errorf("GetGame(\"\") = %v, %v, want nil, nil without a call", g, err)
	}
}
