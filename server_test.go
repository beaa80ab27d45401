package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func newHTTPTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(cfg, &fakeAssistant{}, nil, nil)
	web := httptest.NewServer(srv.Routes())
	t.Cleanup(web.Close)
	return srv, web
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decoding response body: %v", err)
	}
	return body
}

func TestAuthenticateSuccess(t *testing.T) {
	srv, web := newHTTPTestServer(t, Config{
		RedditClientID:     "cfg-id",
		RedditClientSecret: "cfg-secret",
	})
	srv.auth = newTestExchanger(t,
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"access_token": "tok123"}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"name": "testmod"}`)
		},
	)

	resp, err := http.Post(web.URL+"/api/authenticate", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /api/authenticate: %v", err)
	}
	body := decodeBody(t, resp)
	if body["success"] != true {
		t.Fatalf("expected success, got %v", body)
	}
	if body["message"] != "Connected as u/testmod" {
		t.Fatalf("unexpected message %q", body["message"])
	}

	if _, ok := srv.queueSource(); !ok {
		t.Fatal("server should now be authenticated")
	}
}

func TestAuthenticateMissingCredentials(t *testing.T) {
	_, web := newHTTPTestServer(t, Config{})

	resp, err := http.Post(web.URL+"/api/authenticate", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("POST /api/authenticate: %v", err)
	}
	body := decodeBody(t, resp)
	if body["success"] != false {
		t.Fatalf("expected failure, got %v", body)
	}
	msg, _ := body["message"].(string)
	if !strings.Contains(msg, "Missing credentials") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestAuthenticateBodyOverridesConfig(t *testing.T) {
	srv, web := newHTTPTestServer(t, Config{
		RedditClientID:     "cfg-id",
		RedditClientSecret: "cfg-secret",
	})
	var gotAuth string
	srv.auth = newTestExchanger(t,
		func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			fmt.Fprint(w, `{"access_token": "tok"}`)
		},
		func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"name": "testmod"}`)
		},
	)

	payload := `{"reddit_client_id": "body-id", "reddit_client_secret": "body-secret"}`
	resp, err := http.Post(web.URL+"/api/authenticate", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("POST /api/authenticate: %v", err)
	}
	resp.Body.Close()

	if !strings.HasPrefix(gotAuth, "Basic ") {
		t.Fatalf("expected basic auth, got %q", gotAuth)
	}
	if !strings.Contains(gotAuth, basicAuth("body-id", "body-secret")) {
		t.Fatal("body credentials should take precedence over config")
	}
}

func basicAuth(id, secret string) string {
	req, _ := http.NewRequest("GET", "http://example.test", nil)
	req.SetBasicAuth(id, secret)
	return strings.TrimPrefix(req.Header.Get("Authorization"), "Basic ")
}

func TestAuthStatusLifecycle(t *testing.T) {
	srv, web := newHTTPTestServer(t, Config{})

	resp, err := http.Get(web.URL + "/api/auth-status")
	if err != nil {
		t.Fatalf("GET /api/auth-status: %v", err)
	}
	body := decodeBody(t, resp)
	if body["authenticated"] != false {
		t.Fatalf("expected unauthenticated, got %v", body)
	}

	srv.setAuthenticated("tok", "testmod")
	resp, err = http.Get(web.URL + "/api/auth-status")
	if err != nil {
		t.Fatalf("GET /api/auth-status: %v", err)
	}
	body = decodeBody(t, resp)
	if body["authenticated"] != true || body["username"] != "testmod" {
		t.Fatalf("expected authenticated as testmod, got %v", body)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err = client.Get(web.URL + "/auth/logout")
	if err != nil {
		t.Fatalf("GET /auth/logout: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("logout should redirect, got %d", resp.StatusCode)
	}
	if _, ok := srv.queueSource(); ok {
		t.Fatal("logout should clear authentication")
	}
}

// channelQueue adds channel listing to the shared queue fake.
type channelQueue struct {
	fakeQueue
	channels []Channel
}

func (q *channelQueue) ModeratedChannels(ctx context.Context) ([]Channel, error) {
	return q.channels, nil
}

func TestModeratedSubredditsEndpoint(t *testing.T) {
	srv, web := newHTTPTestServer(t, Config{})

	resp, err := http.Get(web.URL + "/api/moderated-subreddits")
	if err != nil {
		t.Fatalf("GET /api/moderated-subreddits: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before auth, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	queue := &channelQueue{channels: []Channel{
		{Name: "big", Title: "Big Sub", Subscribers: 5000},
		{Name: "small", Title: "Small Sub", Subscribers: 10},
	}}
	srv.newQueue = func(token, identity string) QueueSource { return queue }
	srv.setAuthenticated("tok", "testmod")

	resp, err = http.Get(web.URL + "/api/moderated-subreddits")
	if err != nil {
		t.Fatalf("GET /api/moderated-subreddits: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	subs, ok := body["subreddits"].([]any)
	if !ok || len(subs) != 2 {
		t.Fatalf("expected 2 subreddits, got %v", body)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	history := newTestHistory(t)
	history.Record(ActionRecord{
		Channel: "testchannel",
		Ordinal: 1,
		Kind:    KindPost,
		Action:  ActionApprove,
		Mode:    "auto",
		Success: true,
	})

	srv := NewServer(Config{}, &fakeAssistant{}, history, nil)
	web := httptest.NewServer(srv.Routes())
	t.Cleanup(web.Close)

	resp, err := http.Get(web.URL + "/api/history?channel=testchannel")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	actions, ok := body["actions"].([]any)
	if !ok || len(actions) != 1 {
		t.Fatalf("expected 1 action, got %v", body)
	}

	resp, err = http.Get(web.URL + "/api/history?channel=nosuchchannel")
	if err != nil {
		t.Fatalf("GET /api/history: %v", err)
	}
	body = decodeBody(t, resp)
	if body["actions"] != nil {
		t.Fatalf("expected no actions for unknown channel, got %v", body)
	}
}

func TestOAuthStartRedirectsToProvider(t *testing.T) {
	srv, web := newHTTPTestServer(t, Config{RedditClientID: "client-id"})

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(web.URL + "/auth/reddit")
	if err != nil {
		t.Fatalf("GET /auth/reddit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}

	location, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parsing redirect location: %v", err)
	}
	if location.Host != "www.reddit.com" {
		t.Fatalf("unexpected redirect host %q", location.Host)
	}
	state := location.Query().Get("state")
	if state == "" {
		t.Fatal("redirect missing state parameter")
	}

	srv.mu.Lock()
	_, tracked := srv.oauthStates[state]
	srv.mu.Unlock()
	if !tracked {
		t.Fatal("issued state should be tracked server-side")
	}
}

func TestOAuthCallbackRejectsUnknownState(t *testing.T) {
	_, web := newHTTPTestServer(t, Config{RedditClientID: "client-id"})

	resp, err := http.Get(web.URL + "/auth/reddit/callback?state=forged&code=x")
	if err != nil {
		t.Fatalf("GET callback: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("forged state should be rejected, got %d", resp.StatusCode)
	}
}
