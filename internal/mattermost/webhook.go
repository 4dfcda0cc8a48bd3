package mattermost

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/yushkov-tech/mmtotgbot/internal/bridge"
	logx "github.com/yushkov-tech/mmtotgbot/pkg/logx"
)

// WebhookPayload is the body Mattermost sends for outgoing webhooks.
type WebhookPayload struct {
	Token       string `json:"token"`
	TeamID      string `json:"team_id"`
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	UserID      string `json:"user_id"`
	UserName    string `json:"user_name"`
	PostID      string `json:"post_id"`
	Text        string `json:"text"`
	TriggerWord string `json:"trigger_word"`
}

// WebhookServer is the second producer: it accepts outgoing-webhook
// deliveries and feeds qualifying posts into the same ingestion queue
// as the poller. Mattermost may redeliver the same post; dedup
// downstream handles it.
type WebhookServer struct {
	addr    string
	token   string
	qualify *Qualifier
	queue   *bridge.Queue
	log     logx.Logger
}

func NewWebhookServer(addr, token string, qualify *Qualifier, queue *bridge.Queue, log logx.Logger) *WebhookServer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &WebhookServer{addr: addr, token: token, qualify: qualify, queue: queue, log: log}
}

// Run serves until ctx is done, then shuts the listener down with a
// short grace period. Listen errors are returned for the supervisor.
func (s *WebhookServer) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/hook", s.handleHook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		// Enqueue waits are bounded, so request handling is too.
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.log.Info("webhook endpoint listening", logx.String("addr", ln.Addr().String()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = srv.Shutdown(shCtx)
		cancel()
	}()

	err = srv.Serve(ln)
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *WebhookServer) handleHook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload WebhookPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&payload); err != nil {
		s.log.Debug("webhook payload rejected", logx.Err(err))
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if s.token != "" && subtle.ConstantTimeCompare([]byte(payload.Token), []byte(s.token)) != 1 {
		s.log.Warn("webhook token mismatch", logx.String("remote", r.RemoteAddr))
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	if strings.TrimSpace(payload.PostID) == "" || !s.qualify.Qualifies(payload.Text) {
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := bridge.Event{
		ChannelID: payload.ChannelID,
		PostID:    payload.PostID,
		AuthorID:  payload.UserID,
		Text:      payload.Text,
		ArrivedAt: time.Now(),
	}
	if err := s.queue.Enqueue(r.Context(), ev); err != nil {
		// Bounded wait expired; tell Mattermost to back off.
		http.Error(w, "queue full", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
