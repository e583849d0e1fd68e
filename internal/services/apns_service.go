package services

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/http2"

	"github.com/passhub/server/internal/config"
)

// PushStatus classifies the outcome of a single push attempt. The caller
// decides what to do with each class: retry transient failures, drop
// rejected ones, and clean up dead tokens.
type PushStatus int

const (
	PushDelivered PushStatus = iota
	PushTimeout
	PushTransportError
	// PushDeadToken means the gateway reported the token as no longer
	// valid for delivery. The registration behind it should be removed.
	PushDeadToken
	PushRejected
)

func (s PushStatus) String() string {
	switch s {
	case PushDelivered:
		return "delivered"
	case PushTimeout:
		return "timeout"
	case PushTransportError:
		return "transport_error"
	case PushDeadToken:
		return "dead_token"
	case PushRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// PushResult is the outcome of one push attempt. Reason carries the
// gateway's rejection reason when there is one, Err the underlying
// transport error when there is one.
type PushResult struct {
	Status PushStatus
	Reason string
	Err    error
}

// Retryable reports whether another attempt could plausibly succeed.
func (r PushResult) Retryable() bool {
	return r.Status == PushTimeout || r.Status == PushTransportError
}

// APNSService delivers background push notifications through the APNs
// HTTP/2 gateway, authenticating with a provider token signed by the
// team's ES256 key. The signed token is cached and reused until it nears
// the gateway's one-hour validity limit.
type APNSService struct {
	host           string
	keyID          string
	teamID         string
	privateKey     *ecdsa.PrivateKey
	client         *http.Client
	requestTimeout time.Duration
	tokenLifetime  time.Duration

	tokenMu     sync.Mutex
	token       string
	tokenIssued time.Time
	now         func() time.Time
}

// NewAPNSService loads the ES256 signing key and prepares the HTTP/2 client
func NewAPNSService(cfg config.APNS) (*APNSService, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" {
		return nil, fmt.Errorf("APNs key path, key ID, and team ID are required")
	}

	keyData, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key: %w", err)
	}

	privateKey, err := jwt.ParseECPrivateKeyFromPEM(keyData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}

	host := cfg.Host
	if host == "" {
		host = "api.push.apple.com"
	}

	return &APNSService{
		host:           host,
		keyID:          cfg.KeyID,
		teamID:         cfg.TeamID,
		privateKey:     privateKey,
		client:         &http.Client{Transport: &http2.Transport{}},
		requestTimeout: time.Duration(cfg.RequestTimeoutSecs) * time.Second,
		tokenLifetime:  time.Duration(cfg.TokenLifetimeMinutes) * time.Minute,
		now:            time.Now,
	}, nil
}

// providerToken returns a cached provider token, signing a fresh one when
// the cache is empty or the cached token is about to age out.
func (s *APNSService) providerToken() (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	now := s.now()
	if s.token != "" && now.Sub(s.tokenIssued) < s.tokenLifetime {
		return s.token, nil
	}

	claims := jwt.MapClaims{
		"iss": s.teamID,
		"iat": now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	token.Header["kid"] = s.keyID

	signed, err := token.SignedString(s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign provider token: %w", err)
	}

	s.token = signed
	s.tokenIssued = now
	return signed, nil
}

// invalidateToken drops the cached provider token so the next attempt
// signs a fresh one.
func (s *APNSService) invalidateToken() {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()
	s.token = ""
}

type apnsError struct {
	Reason string `json:"reason"`
}

// Notify sends a contentless background push telling the device to poll
// for pass updates. The topic is the pass type identifier of the changed
// pass. The call never returns a Go error; every outcome is expressed as
// a classified PushResult.
func (s *APNSService) Notify(ctx context.Context, pushToken, topic string) PushResult {
	providerToken, err := s.providerToken()
	if err != nil {
		return PushResult{Status: PushTransportError, Err: err}
	}

	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	url := fmt.Sprintf("https://%s/3/device/%s", s.host, pushToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte("{}")))
	if err != nil {
		return PushResult{Status: PushTransportError, Err: err}
	}
	req.Header.Set("authorization", "bearer "+providerToken)
	req.Header.Set("apns-topic", topic)
	req.Header.Set("apns-push-type", "background")
	req.Header.Set("apns-priority", "5")
	req.Header.Set("apns-expiration", "0")

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return PushResult{Status: PushTimeout, Err: err}
		}
		return PushResult{Status: PushTransportError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return PushResult{Status: PushDelivered}
	}

	var gatewayErr apnsError
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	json.Unmarshal(body, &gatewayErr)
	reason := gatewayErr.Reason
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusGone:
		return PushResult{Status: PushDeadToken, Reason: reason}
	case resp.StatusCode == http.StatusBadRequest && reason == "BadDeviceToken":
		return PushResult{Status: PushDeadToken, Reason: reason}
	case reason == "ExpiredProviderToken":
		// The next attempt signs a fresh token.
		s.invalidateToken()
		return PushResult{Status: PushRejected, Reason: reason}
	default:
		return PushResult{Status: PushRejected, Reason: reason}
	}
}
