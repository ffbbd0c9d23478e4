package httphandler

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleProfile is the subset of the Google userinfo payload the login flow
// needs.
type GoogleProfile struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// GoogleAuthenticator abstracts the Google OAuth flow so handler tests can
// run without Google.
type GoogleAuthenticator interface {
	// AuthURL returns the consent-screen URL carrying the CSRF state.
	AuthURL(state string) string

	// Exchange trades the callback code for the user's profile.
	Exchange(ctx context.Context, code string) (GoogleProfile, error)
}

// googleAuth implements GoogleAuthenticator against the real Google endpoints.
type googleAuth struct {
	conf *oauth2.Config
}

// NewGoogleAuthenticator configures the Google OAuth client for the
// openid/email/profile scopes.
func NewGoogleAuthenticator(clientID, clientSecret, redirectURL string) GoogleAuthenticator {
	return &googleAuth{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			RedirectURL:  redirectURL,
			Scopes:       []string{"openid", "email", "profile"},
		},
	}
}

func (g *googleAuth) AuthURL(state string) string {
	return g.conf.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (g *googleAuth) Exchange(ctx context.Context, code string) (GoogleProfile, error) {
	token, err := g.conf.Exchange(ctx, code)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("exchange oauth code: %w", err)
	}

	resp, err := g.conf.Client(ctx, token).Get(userinfoURL)
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("fetch google profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return GoogleProfile{}, fmt.Errorf("google userinfo returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return GoogleProfile{}, fmt.Errorf("read google profile: %w", err)
	}

	var profile GoogleProfile
	if err := json.Unmarshal(body, &profile); err != nil {
		return GoogleProfile{}, fmt.Errorf("decode google profile: %w", err)
	}
	if profile.Email == "" {
		return GoogleProfile{}, fmt.Errorf("google profile has no email")
	}
	return profile, nil
}

// newStateToken produces the CSRF state for one login round trip.
func newStateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
