package kotakneo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"signalflow/internal/logger"
	"signalflow/internal/session"
)

// sessionTTL bounds a trade token's validity. The venue invalidates
// tokens at end of day; the cache re-logs in on expiry either way.
const sessionTTL = 8 * time.Hour

// OTPFunc produces the second-factor code for a login. Deployments wire
// this to a TOTP generator or an operator prompt.
type OTPFunc func(ctx context.Context) (string, error)

// Authenticator performs the venue's two-step login: password first,
// then the second factor. It implements session.Authenticator so the
// session cache can drive refreshes.
type Authenticator struct {
	baseURL    *url.URL
	httpClient *http.Client
	mobile     string
	password   string
	otp        OTPFunc
}

// NewAuthenticator constructs the login flow from configuration.
func NewAuthenticator(cfg Config, otp OTPFunc) (*Authenticator, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("kotakneo: base_url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("kotakneo: parsing base_url: %w", err)
	}
	if otp == nil {
		return nil, fmt.Errorf("kotakneo: an OTP source is required for login")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Authenticator{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: timeout},
		mobile:     strings.TrimSpace(cfg.MobileNumber),
		password:   cfg.Password,
		otp:        otp,
	}, nil
}

// SetHTTPClient sets the HTTP client for testing.
func (a *Authenticator) SetHTTPClient(client *http.Client) {
	a.httpClient = client
}

// Login runs password auth then second-factor validation and returns the
// trade token the venue issues.
func (a *Authenticator) Login(ctx context.Context, accountID string) (session.Token, error) {
	viewToken, err := a.post(ctx, "/session/login", map[string]string{
		"mobilenumber": a.mobile,
		"password":     a.password,
	}, "", "data.token")
	if err != nil {
		return session.Token{}, fmt.Errorf("login for account %s: %w", accountID, err)
	}

	code, err := a.otp(ctx)
	if err != nil {
		return session.Token{}, fmt.Errorf("obtaining otp for account %s: %w", accountID, err)
	}

	tradeToken, err := a.post(ctx, "/session/2fa", map[string]string{
		"otp": code,
	}, viewToken, "data.session_token")
	if err != nil {
		return session.Token{}, fmt.Errorf("second factor for account %s: %w", accountID, err)
	}

	now := time.Now()
	logger.Infof("kotakneo: session established for account %s", accountID)
	return session.Token{
		AccountID: accountID,
		Value:     tradeToken,
		IssuedAt:  now,
		ExpiresAt: now.Add(sessionTTL),
	}, nil
}

// post sends one login-flow request and extracts tokenPath from a
// successful envelope.
func (a *Authenticator) post(ctx context.Context, path string, payload map[string]string, bearer, tokenPath string) (string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}
	endpoint := *a.baseURL
	endpoint.Path = strings.TrimSuffix(endpoint.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.String(), bytes.NewReader(buf))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s: %s", resp.Status, errorMessage(body, "login rejected"))
	}
	if status := gjson.GetBytes(body, "status").String(); status != "" && status != "success" {
		return "", fmt.Errorf("venue reported %q: %s", status, errorMessage(body, "login rejected"))
	}
	token := gjson.GetBytes(body, tokenPath).String()
	if token == "" {
		return "", fmt.Errorf("response carried no %s", tokenPath)
	}
	return token, nil
}
