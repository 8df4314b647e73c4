package actions

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rfqflow/transport"
)

var (
	ErrInvalidToken = errors.New("actions: invalid token")
	ErrMissingKey   = errors.New("actions: signing secret required")
)

type Kind string

const (
	KindView  Kind = "view"
	KindOffer Kind = "offer"
)

// Claims identify the distribution a link was issued for.
type Claims struct {
	DistributionID string `json:"did"`
	Kind           Kind   `json:"act"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 tokens embedded in outbound action links.
type Signer struct {
	secret  []byte
	baseURL string
	ttl     time.Duration
	now     func() time.Time
}

func NewSigner(secret, baseURL string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Signer{
		secret:  []byte(secret),
		baseURL: strings.TrimRight(baseURL, "/"),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// Links returns the view and offer buttons for a distribution. Tokens never
// outlive the trip request's own expiry.
func (s *Signer) Links(distributionID string, expiresAt *time.Time) ([]transport.Action, error) {
	if s.baseURL == "" {
		return nil, nil
	}

	exp := s.now().Add(s.ttl)
	if expiresAt != nil && expiresAt.After(s.now()) && expiresAt.Before(exp) {
		exp = *expiresAt
	}

	view, err := s.Sign(distributionID, KindView, exp)
	if err != nil {
		return nil, err
	}
	offer, err := s.Sign(distributionID, KindOffer, exp)
	if err != nil {
		return nil, err
	}

	return []transport.Action{
		{Label: "View request", URL: s.baseURL + "/rfq/view?t=" + url.QueryEscape(view)},
		{Label: "Send offer", URL: s.baseURL + "/rfq/offer?t=" + url.QueryEscape(offer)},
	}, nil
}

func (s *Signer) Sign(distributionID string, kind Kind, expiresAt time.Time) (string, error) {
	claims := Claims{
		DistributionID: distributionID,
		Kind:           kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   distributionID,
			IssuedAt:  jwt.NewNumericDate(s.now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("actions: sign: %w", err)
	}
	return token, nil
}

// Verify checks signature and expiry and returns the claims.
func (s *Signer) Verify(tokenString string) (Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.DistributionID == "" {
		return Claims{}, ErrInvalidToken
	}
	switch claims.Kind {
	case KindView, KindOffer:
	default:
		return Claims{}, fmt.Errorf("%w: unknown action %q", ErrInvalidToken, claims.Kind)
	}
	return claims, nil
}
