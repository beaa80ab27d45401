package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const oauthStateTTL = 10 * time.Minute

// AssistantClient is what the server needs from the classification side:
// per-item verdicts for runs plus the two conversational operations.
type AssistantClient interface {
	Classifier
	AnswerQuestion(ctx context.Context, itemCtx ItemContext, question string) string
	DraftRemovalReason(ctx context.Context, itemCtx ItemContext) string
}

// ChannelLister enumerates the communities an identity moderates.
type ChannelLister interface {
	ModeratedChannels(ctx context.Context) ([]Channel, error)
}

// Server holds the web surface: auth exchange, channel listing, the
// websocket event channel, and the action-history endpoint.
type Server struct {
	cfg      Config
	llm      AssistantClient
	history  *History
	notifier *Notifier
	auth     *authExchanger

	// newQueue builds a provider client for an authenticated identity.
	// Swappable in tests.
	newQueue func(token, identity string) QueueSource

	mu            sync.Mutex
	queue         QueueSource
	identity      string
	authenticated bool
	oauthStates   map[string]time.Time
}

func NewServer(cfg Config, llm AssistantClient, history *History, notifier *Notifier) *Server {
	s := &Server{
		cfg:         cfg,
		llm:         llm,
		history:     history,
		notifier:    notifier,
		auth:        newAuthExchanger(cfg),
		oauthStates: make(map[string]time.Time),
	}
	s.newQueue = func(token, identity string) QueueSource {
		return NewRedditClient(token, identity, cfg.RedditUserAgent, cfg.ExternalTimeout())
	}
	return s
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/authenticate", s.handleAuthenticate)
	mux.HandleFunc("GET /api/auth-status", s.handleAuthStatus)
	mux.HandleFunc("GET /api/moderated-subreddits", s.handleChannels)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /auth/reddit", s.handleOAuthStart)
	mux.HandleFunc("GET /auth/reddit/callback", s.handleOAuthCallback)
	mux.HandleFunc("GET /auth/logout", s.handleLogout)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// queueSource returns the provider client for the authenticated identity.
func (s *Server) queueSource() (QueueSource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authenticated || s.queue == nil {
		return nil, false
	}
	return s.queue, true
}

func (s *Server) setAuthenticated(token, identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = s.newQueue(token, identity)
	s.identity = identity
	s.authenticated = true
}

type credentialsRequest struct {
	RedditClientID     string `json:"reddit_client_id"`
	RedditClientSecret string `json:"reddit_client_secret"`
	RedditUsername     string `json:"reddit_username"`
}

// handleAuthenticate performs the script-credentials grant. Credentials
// come from the request body, falling back to the configured ones.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var creds credentialsRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&creds)
	}
	if creds.RedditClientID == "" {
		creds.RedditClientID = s.cfg.RedditClientID
	}
	if creds.RedditClientSecret == "" {
		creds.RedditClientSecret = s.cfg.RedditClientSecret
	}
	if creds.RedditUsername == "" {
		creds.RedditUsername = s.cfg.RedditUsername
	}

	var missing []string
	if creds.RedditClientID == "" {
		missing = append(missing, "Reddit Client ID")
	}
	if creds.RedditClientSecret == "" {
		missing = append(missing, "Reddit Client Secret")
	}
	if len(missing) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": "Missing credentials: " + strings.Join(missing, ", "),
		})
		return
	}

	token, identity, err := s.auth.ExchangeCredentials(r.Context(), creds.RedditClientID, creds.RedditClientSecret, creds.RedditUsername)
	if err != nil {
		log.Printf("authenticate error: %v", err)
		writeJSON(w, http.StatusOK, map[string]any{
			"success": false,
			"message": err.Error(),
		})
		return
	}

	s.setAuthenticated(token, identity)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  fmt.Sprintf("Connected as u/%s", identity),
		"username": identity,
	})
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	authenticated, identity := s.authenticated, s.identity
	s.mu.Unlock()

	resp := map[string]any{"authenticated": authenticated}
	if authenticated {
		resp["username"] = identity
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.queue = nil
	s.identity = ""
	s.authenticated = false
	s.mu.Unlock()
	http.Redirect(w, r, "/?auth=logout", http.StatusFound)
}

func (s *Server) handleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if s.cfg.RedditClientID == "" {
		http.Error(w, "Reddit OAuth not configured: set reddit_client_id", http.StatusServiceUnavailable)
		return
	}

	state := randomState()
	s.mu.Lock()
	for key, issued := range s.oauthStates {
		if time.Since(issued) > oauthStateTTL {
			delete(s.oauthStates, key)
		}
	}
	s.oauthStates[state] = time.Now()
	s.mu.Unlock()

	redirectURI := callbackURI(r)
	http.Redirect(w, r, s.auth.AuthorizeURL(s.cfg.RedditClientID, state, redirectURI), http.StatusFound)
}

func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	s.mu.Lock()
	issued, ok := s.oauthStates[state]
	delete(s.oauthStates, state)
	s.mu.Unlock()
	if !ok || time.Since(issued) > oauthStateTTL {
		http.Error(w, "Invalid OAuth state parameter", http.StatusBadRequest)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "No authorization code received", http.StatusBadRequest)
		return
	}

	token, _, err := s.auth.ExchangeAuthCode(r.Context(), s.cfg.RedditClientID, s.cfg.RedditClientSecret, code, callbackURI(r))
	if err != nil {
		log.Printf("oauth callback error: %v", err)
		http.Error(w, fmt.Sprintf("Token exchange failed: %v", err), http.StatusBadRequest)
		return
	}

	identity, err := s.auth.resolveIdentity(r.Context(), token)
	if err != nil {
		log.Printf("oauth identity error: %v", err)
		identity = "unknown"
	}

	s.setAuthenticated(token, identity)
	http.Redirect(w, r, "/?auth=success", http.StatusFound)
}

func (s *Server) handleChannels(w http.ResponseWriter, r *http.Request) {
	queue, ok := s.queueSource()
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Not authenticated"})
		return
	}
	lister, ok := queue.(ChannelLister)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Channel listing unavailable"})
		return
	}

	channels, err := lister.ModeratedChannels(r.Context())
	if err != nil {
		log.Printf("channels error: %v", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": fmt.Sprintf("Failed to fetch subreddits: %v", err)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subreddits": channels})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "History not configured"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.history.RecentActions(r.URL.Query().Get("channel"), limit)
	if err != nil {
		log.Printf("history query error: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to read history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": records})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("response encode error: %v", err)
	}
}

func callbackURI(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + "/auth/reddit/callback"
}

func randomState() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing is unrecoverable for OAuth state.
		log.Fatalf("random state: %v", err)
	}
	return hex.EncodeToString(buf)
}
