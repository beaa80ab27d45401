package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
)

// authExchanger performs the token-for-credentials and
// token-for-authorization-code exchanges. The pipeline core only ever sees
// the resulting bearer token and identity string.
type authExchanger struct {
	tokenURL  string // https://www.reddit.com/api/v1/access_token
	apiURL    string // https://oauth.reddit.com
	userAgent string
	http      *http.Client
}

func newAuthExchanger(cfg Config) *authExchanger {
	return &authExchanger{
		tokenURL:  "https://www.reddit.com/api/v1/access_token",
		apiURL:    "https://oauth.reddit.com",
		userAgent: cfg.RedditUserAgent,
		http:      &http.Client{Timeout: cfg.ExternalTimeout()},
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Error        string `json:"error"`
}

// ExchangeCredentials performs the script-app client-credentials grant and
// resolves the account identity. Returns the opaque bearer token plus the
// identity string the core treats as inputs.
func (a *authExchanger) ExchangeCredentials(ctx context.Context, clientID, clientSecret, username string) (token, identity string, err error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	tok, err := a.postToken(ctx, clientID, clientSecret, form)
	if err != nil {
		return "", "", err
	}

	identity, err = a.resolveIdentity(ctx, tok)
	if err != nil {
		// The token worked for the grant but not for the API; report the
		// configured username so the caller still has something to show.
		if username != "" {
			return tok, username, nil
		}
		return "", "", err
	}
	return tok, identity, nil
}

// ExchangeAuthCode performs the authorization-code grant used by the
// browser OAuth flow.
func (a *authExchanger) ExchangeAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (token, refresh string, err error) {
	form := url.Values{
		"grant_type":   {"authorization_code"},
		"code":         {code},
		"redirect_uri": {redirectURI},
	}
	tok, err := a.postTokenFull(ctx, clientID, clientSecret, form)
	if err != nil {
		return "", "", err
	}
	return tok.AccessToken, tok.RefreshToken, nil
}

func (a *authExchanger) postToken(ctx context.Context, clientID, clientSecret string, form url.Values) (string, error) {
	tok, err := a.postTokenFull(ctx, clientID, clientSecret, form)
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (a *authExchanger) postTokenFull(ctx context.Context, clientID, clientSecret string, form url.Values) (tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("%w: creating token request: %v", ErrAuthFailure, err)
	}
	basic := base64.StdEncoding.EncodeToString([]byte(clientID + ":" + clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.http.Do(req)
	if err != nil {
		return tokenResponse{}, fmt.Errorf("%w: token exchange: %v", ErrAuthFailure, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return tokenResponse{}, fmt.Errorf("%w: token exchange returned %d: %s", ErrAuthFailure, resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return tokenResponse{}, fmt.Errorf("%w: parsing token response: %v", ErrAuthFailure, err)
	}
	if tok.Error != "" {
		return tokenResponse{}, fmt.Errorf("%w: token exchange: %s", ErrAuthFailure, tok.Error)
	}
	if tok.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("%w: no access token in response", ErrAuthFailure)
	}
	return tok, nil
}

// resolveIdentity asks the provider who the token belongs to.
func (a *authExchanger) resolveIdentity(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", a.apiURL+"/api/v1/me", nil)
	if err != nil {
		return "", fmt.Errorf("%w: creating identity request: %v", ErrAuthFailure, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: identity lookup: %v", ErrAuthFailure, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: identity lookup returned %d: %s", ErrAuthFailure, resp.StatusCode, string(body))
	}

	var me struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &me); err != nil {
		return "", fmt.Errorf("%w: parsing identity response: %v", ErrAuthFailure, err)
	}
	if me.Name == "" {
		return "", fmt.Errorf("%w: identity response had no name", ErrAuthFailure)
	}
	log.Printf("auth identity resolved user=%s", me.Name)
	return me.Name, nil
}

// AuthorizeURL builds the browser redirect for the authorization-code flow.
func (a *authExchanger) AuthorizeURL(clientID, state, redirectURI string) string {
	params := url.Values{
		"client_id":     {clientID},
		"response_type": {"code"},
		"state":         {state},
		"redirect_uri":  {redirectURI},
		"duration":      {"permanent"},
		"scope":         {"identity mysubreddits modposts read"},
	}
	return "https://www.reddit.com/api/v1/authorize?" + params.Encode()
}
