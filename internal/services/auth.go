package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// tokenRefreshMargin is how long before the JWT expiry the kiosk re-signs in.
const tokenRefreshMargin = 30 * time.Second

// ErrNotSignedIn is returned when no kiosk credentials are configured and no
// registration has happened yet.
var ErrNotSignedIn = errors.New("kiosk is not signed in")

// AuthClient signs the kiosk in against the Flick Place backend, either with
// configured booth credentials or with a registration QR payload, and hands
// out the bearer token for all API calls. A 401 anywhere in the flow invokes
// the sign-out handler; the payment core must tolerate being torn down
// mid-flow when that happens.
type AuthClient struct {
	baseURL   string
	http      *http.Client
	boothCode string
	passcode  string
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
	onSignOut func()
}

func NewAuthClient(baseURL, boothCode, passcode string, logger *zap.SugaredLogger) *AuthClient {
	return &AuthClient{
		baseURL:   baseURL,
		http:      &http.Client{Timeout: 10 * time.Second},
		boothCode: boothCode,
		passcode:  passcode,
		logger:    logger,
	}
}

// SetSignOutHandler registers the teardown invoked on a forced sign-out.
func (a *AuthClient) SetSignOutHandler(fn func()) {
	a.mu.Lock()
	a.onSignOut = fn
	a.mu.Unlock()
}

// Login exchanges booth credentials for a bearer token.
func (a *AuthClient) Login(ctx context.Context) error {
	if a.boothCode == "" {
		return ErrNotSignedIn
	}
	return a.signIn(ctx, "/auth/login", map[string]string{
		"boothCode": a.boothCode,
		"passcode":  a.passcode,
	})
}

// RegisterWithCode signs the kiosk in using a registration QR payload
// scanned by booth staff.
func (a *AuthClient) RegisterWithCode(ctx context.Context, code string) error {
	return a.signIn(ctx, "/auth/register", map[string]string{"code": code})
}

func (a *AuthClient) signIn(ctx context.Context, path string, body map[string]string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("sign-in rejected with status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if result.AccessToken == "" {
		return errors.New("sign-in response carried no access token")
	}

	a.mu.Lock()
	a.token = result.AccessToken
	a.expiresAt = tokenExpiry(result.AccessToken)
	a.mu.Unlock()

	a.logger.Infow("kiosk signed in", "expires_at", tokenExpiry(result.AccessToken))
	return nil
}

// Token returns the current bearer token, re-signing-in when it is missing
// or close to expiry.
func (a *AuthClient) Token(ctx context.Context) (string, error) {
	a.mu.Lock()
	token := a.token
	fresh := token != "" && (a.expiresAt.IsZero() || time.Until(a.expiresAt) > tokenRefreshMargin)
	a.mu.Unlock()

	if fresh {
		return token, nil
	}
	if err := a.Login(ctx); err != nil {
		if token != "" {
			// Keep using the old token; the backend will 401 it if it is
			// actually dead.
			return token, nil
		}
		return "", err
	}
	a.mu.Lock()
	token = a.token
	a.mu.Unlock()
	return token, nil
}

// SignedIn reports whether a token is currently held.
func (a *AuthClient) SignedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.token != ""
}

// HandleUnauthorized drops the held token and fires the sign-out teardown.
func (a *AuthClient) HandleUnauthorized() {
	a.mu.Lock()
	a.token = ""
	a.expiresAt = time.Time{}
	fn := a.onSignOut
	a.mu.Unlock()

	a.logger.Warn("backend rejected kiosk credentials, signing out")
	if fn != nil {
		fn()
	}
}

// tokenExpiry reads the exp claim without verifying the signature; the kiosk
// is not the token's verifier, it only schedules its own re-login.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
