package mattermost

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

func TestClientAuthHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("X-Requested-With"); got != "XMLHttpRequest" {
			t.Errorf("X-Requested-With = %q", got)
		}
		_ = json.NewEncoder(w).Encode(User{ID: "u1", Username: "bridge"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", logx.Nop())
	me, err := c.GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if me.ID != "u1" {
		t.Fatalf("me.ID = %q, want u1", me.ID)
	}
}

func TestClientCreatePostBody(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v4/posts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", logx.Nop())
	if err := c.PostReply(context.Background(), "chan1", "root1", "hello"); err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if got["channel_id"] != "chan1" || got["root_id"] != "root1" || got["message"] != "hello" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestClientErrorCarriesStatusAndSnippet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid session"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "expired", logx.Nop())
	_, err := c.GetMe(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"401", "invalid session"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q missing %q", err, want)
		}
	}
}

func TestClientPostsSinceSortsOldestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("since"); got == "" {
			t.Error("since query parameter missing")
		}
		_ = json.NewEncoder(w).Encode(postList{
			Order: []string{"p3", "p1", "p2"},
			Posts: map[string]Post{
				"p3": {ID: "p3", CreateAt: 3000},
				"p1": {ID: "p1", CreateAt: 1000},
				"p2": {ID: "p2", CreateAt: 2000},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok", logx.Nop())
	posts, err := c.PostsSince(context.Background(), "chan1", time.Now())
	if err != nil {
		t.Fatalf("PostsSince: %v", err)
	}
	if len(posts) != 3 {
		t.Fatalf("got %d posts, want 3", len(posts))
	}
	for i, want := range []string{"p1", "p2", "p3"} {
		if posts[i].ID != want {
			t.Fatalf("posts[%d] = %q, want %q", i, posts[i].ID, want)
		}
	}
}

func TestDisplayNamePreference(t *testing.T) {
	cases := []struct {
		name string
		user User
		want string
	}{
		{"nickname wins", User{Username: "d.ops", Nickname: "Dana", FirstName: "D", LastName: "O"}, "Dana"},
		{"full name next", User{Username: "d.ops", FirstName: "Dana", LastName: "Ops"}, "Dana Ops"},
		{"username last", User{Username: "d.ops"}, "d.ops"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(tc.user)
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "tok", logx.Nop())
			got, err := c.DisplayName(context.Background(), "u1")
			if err != nil {
				t.Fatalf("DisplayName: %v", err)
			}
			if got != tc.want {
				t.Fatalf("DisplayName = %q, want %q", got, tc.want)
			}
		})
	}
}
