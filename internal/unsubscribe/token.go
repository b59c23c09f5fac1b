// Package unsubscribe issues and validates the signed unsubscribe links
// embedded in every outbound email. A token proves the bearer may
// unsubscribe one specific (tenant, email) pair, for a bounded window.
package unsubscribe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/leadwave/leadwave/internal/domain"
)

// DefaultValidity is the token lifetime when none is configured.
const DefaultValidity = 30 * 24 * time.Hour

// TokenService generates and validates HMAC-signed unsubscribe tokens.
// The payload is reversible on purpose (the unsubscribe endpoint needs the
// tenant and campaign back); the signature is what makes it unforgeable.
type TokenService struct {
	key      []byte
	baseURL  string
	validity time.Duration

	now func() time.Time // injectable for expiry tests
}

// Payload is the decoded content of a valid token.
type Payload struct {
	Email      string
	TenantID   string
	CampaignID string
	IssuedAt   time.Time
}

// NewTokenService creates a token service. baseURL is the public link host,
// e.g. "https://links.leadwave.io". A zero validity uses DefaultValidity.
func NewTokenService(signingKey, baseURL string, validity time.Duration) *TokenService {
	if validity <= 0 {
		validity = DefaultValidity
	}
	return &TokenService{
		key:      []byte(signingKey),
		baseURL:  strings.TrimRight(baseURL, "/"),
		validity: validity,
		now:      time.Now,
	}
}

// Generate returns the full unsubscribe URL for the given recipient.
// The URL carries the percent-encoded email plus the signed token.
func (s *TokenService) Generate(email, tenantID, campaignID string) string {
	token := s.Token(email, tenantID, campaignID)
	return fmt.Sprintf("%s/unsubscribe?email=%s&token=%s",
		s.baseURL, url.QueryEscape(email), url.QueryEscape(token))
}

// Token returns just the signed token string: base64url(payload).signature.
func (s *TokenService) Token(email, tenantID, campaignID string) string {
	payload := fmt.Sprintf("%s|%s|%s|%d", email, tenantID, campaignID, s.now().Unix())
	encoded := base64.URLEncoding.EncodeToString([]byte(payload))
	return encoded + "." + s.sign(payload)
}

// Parse verifies the token's signature and expiry and returns its payload.
// Any decode failure, forged signature, or expired window yields
// domain.ErrInvalidUnsubscribeToken; it never panics on malformed input.
func (s *TokenService) Parse(token string) (*Payload, error) {
	encoded, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, domain.ErrInvalidUnsubscribeToken
	}

	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.ErrInvalidUnsubscribeToken
	}
	payload := string(raw)

	if !hmac.Equal([]byte(s.sign(payload)), []byte(sig)) {
		return nil, domain.ErrInvalidUnsubscribeToken
	}

	parts := strings.Split(payload, "|")
	if len(parts) != 4 {
		return nil, domain.ErrInvalidUnsubscribeToken
	}

	issuedUnix, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return nil, domain.ErrInvalidUnsubscribeToken
	}
	issuedAt := time.Unix(issuedUnix, 0)

	if s.now().Sub(issuedAt) > s.validity {
		return nil, domain.ErrInvalidUnsubscribeToken
	}

	return &Payload{
		Email:      parts[0],
		TenantID:   parts[1],
		CampaignID: parts[2],
		IssuedAt:   issuedAt,
	}, nil
}

// Validate reports whether token is currently valid for the presented email.
// The embedded email must match exactly; mismatches, forgeries, and expired
// tokens all return false.
func (s *TokenService) Validate(email, token string) bool {
	p, err := s.Parse(token)
	if err != nil {
		return false
	}
	return p.Email == email
}

func (s *TokenService) sign(payload string) string {
	h := hmac.New(sha256.New, s.key)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}
