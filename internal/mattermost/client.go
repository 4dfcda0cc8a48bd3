// Package mattermost holds the source-platform collaborators: an API
// v4 client, the polling producer, and the outgoing-webhook endpoint.
package mattermost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logx.Logger
}

func NewClient(serverURL, bearerToken string, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		token:   bearerToken,
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     log,
	}
}

type Post struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	RootID    string `json:"root_id"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	CreateAt  int64  `json:"create_at"` // ms since epoch
}

type Channel struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Nickname  string `json:"nickname"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

func (c *Client) GetPost(ctx context.Context, id string) (Post, error) {
	var p Post
	err := c.get(ctx, "/api/v4/posts/"+url.PathEscape(id), &p)
	return p, err
}

func (c *Client) GetChannel(ctx context.Context, id string) (Channel, error) {
	var ch Channel
	err := c.get(ctx, "/api/v4/channels/"+url.PathEscape(id), &ch)
	return ch, err
}

func (c *Client) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := c.get(ctx, "/api/v4/users/"+url.PathEscape(id), &u)
	return u, err
}

// GetMe resolves the bridge's own bot account.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	var u User
	err := c.get(ctx, "/api/v4/users/me", &u)
	return u, err
}

// CreatePost posts message into channelID; a non-empty rootID makes it
// a thread reply.
func (c *Client) CreatePost(ctx context.Context, channelID, rootID, message string) error {
	body := map[string]string{
		"channel_id": channelID,
		"message":    message,
		"root_id":    rootID,
	}
	return c.post(ctx, "/api/v4/posts", body, nil)
}

type postList struct {
	Order []string        `json:"order"`
	Posts map[string]Post `json:"posts"`
}

// PostsSince returns channel posts created after since, oldest first.
func (c *Client) PostsSince(ctx context.Context, channelID string, since time.Time) ([]Post, error) {
	path := "/api/v4/channels/" + url.PathEscape(channelID) + "/posts?since=" + strconv.FormatInt(since.UnixMilli(), 10)
	var pl postList
	if err := c.get(ctx, path, &pl); err != nil {
		return nil, err
	}
	out := make([]Post, 0, len(pl.Posts))
	for _, p := range pl.Posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreateAt < out[j].CreateAt })
	return out, nil
}

// ---- bridge collaborator adapters ----

// PostReply satisfies bridge.SourcePoster.
func (c *Client) PostReply(ctx context.Context, channelID, rootID, text string) error {
	return c.CreatePost(ctx, channelID, rootID, text)
}

// DisplayName satisfies bridge.UserResolver. Preference order mirrors
// what Mattermost itself shows: nickname, full name, username.
func (c *Client) DisplayName(ctx context.Context, userID string) (string, error) {
	u, err := c.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if n := strings.TrimSpace(u.Nickname); n != "" {
		return n, nil
	}
	if full := strings.TrimSpace(u.FirstName + " " + u.LastName); full != "" {
		return full, nil
	}
	return u.Username, nil
}

// ChannelName satisfies bridge.ChannelResolver.
func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	ch, err := c.GetChannel(ctx, channelID)
	if err != nil {
		return "", err
	}
	return ch.DisplayName, nil
}

// ---- plumbing ----

func (c *Client) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("mattermost %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little of the body for context; ignore read errors.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("mattermost %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mattermost %s %s: decode: %w", method, path, err)
	}
	return nil
}
