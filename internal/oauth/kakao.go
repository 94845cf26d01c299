// Package oauth implements the Kakao social-login gateway. Kakao uses
// plain OAuth 2.0 without ID tokens, so bridging a login takes two
// calls: exchange the authorization code for a provider access token,
// then fetch the profile for that token. Both are blocking network
// calls bounded by the client timeout; the gateway never retries.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultAuthBase = "https://kauth.kakao.com"
	defaultAPIBase  = "https://kapi.kakao.com"

	tokenPath   = "/oauth/token"
	profilePath = "/v2/user/me"
	logoutPath  = "/v1/user/logout"
)

// Profile is the narrow, provider-independent view of a social login
// identity. Nothing downstream of the gateway sees Kakao's own field
// names, so a provider payload change stays contained here.
type Profile struct {
	Email     string
	Nickname  string
	AvatarURL string
}

// Kakao is the OAuth 2.0 client for the Kakao provider.
type Kakao struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthBase and APIBase default to the public Kakao hosts and are
	// overridable for tests.
	AuthBase string
	APIBase  string

	http *http.Client
}

// NewKakao creates a Kakao gateway with a bounded HTTP client.
func NewKakao(clientID, clientSecret, redirectURL string) *Kakao {
	return &Kakao{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		AuthBase:     defaultAuthBase,
		APIBase:      defaultAPIBase,
		http:         &http.Client{Timeout: 10 * time.Second},
	}
}

// tokenResponse is the response from Kakao's token endpoint.
type tokenResponse struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// ExchangeCode exchanges an authorization code for a provider access
// token. Any transport error, non-success payload or missing token is
// returned as an error; local user state is never touched here.
func (k *Kakao) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", k.ClientID)
	form.Set("client_secret", k.ClientSecret)
	form.Set("redirect_uri", k.RedirectURL)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.AuthBase+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := k.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.Error != "" {
		return "", fmt.Errorf("kakao oauth error: %s - %s", tr.Error, tr.ErrorDesc)
	}
	if resp.StatusCode != http.StatusOK || tr.AccessToken == "" {
		return "", fmt.Errorf("kakao token endpoint: status %d, no access_token", resp.StatusCode)
	}
	return tr.AccessToken, nil
}

// kakaoUser is Kakao's /v2/user/me payload, mapped down to Profile
// before anything else sees it.
type kakaoUser struct {
	ID           int64  `json:"id"`
	ConnectedAt  string `json:"connected_at"`
	KakaoAccount struct {
		Email   string `json:"email"`
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
	} `json:"kakao_account"`
}

// FetchProfile fetches the provider profile for an access token.
func (k *Kakao) FetchProfile(ctx context.Context, accessToken string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.APIBase+profilePath, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded;charset=utf-8")

	resp, err := k.http.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("kakao profile endpoint: status %d", resp.StatusCode)
	}
	var ku kakaoUser
	if err := json.NewDecoder(resp.Body).Decode(&ku); err != nil {
		return Profile{}, fmt.Errorf("decode profile response: %w", err)
	}
	if ku.KakaoAccount.Email == "" {
		return Profile{}, fmt.Errorf("kakao profile has no email")
	}
	return Profile{
		Email:     ku.KakaoAccount.Email,
		Nickname:  ku.KakaoAccount.Profile.Nickname,
		AvatarURL: ku.KakaoAccount.Profile.ProfileImageURL,
	}, nil
}

// Revoke ends the provider-side session for an access token. A revoke
// failure is reported but callers clear local session state either
// way, so a flaky provider cannot pin a session open.
func (k *Kakao) Revoke(ctx context.Context, accessToken string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.APIBase+logoutPath, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := k.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("kakao logout endpoint: status %d", resp.StatusCode)
	}
	return nil
}
