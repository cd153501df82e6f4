package notify

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultLinkTTL is how long approve/reject links stay valid
const DefaultLinkTTL = 7 * 24 * time.Hour

// Link actions
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// ErrInvalidLink is returned for tampered, expired or malformed action tokens
var ErrInvalidLink = errors.New("invalid action link")

// ActionClaims are carried by a signed action link
type ActionClaims struct {
	JobID     uuid.UUID `json:"job_id"`
	ContentID uuid.UUID `json:"content_id"`
	Action    string    `json:"action"`
	jwt.RegisteredClaims
}

// Signer issues and verifies HS256 action tokens
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates a signer. A non-positive ttl uses DefaultLinkTTL.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, fmt.Errorf("action link secret cannot be empty")
	}
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Sign returns a token authorizing action on the job's content
func (s *Signer) Sign(jobID, contentID uuid.UUID, action string) (string, error) {
	now := s.now()
	claims := &ActionClaims{
		JobID:     jobID,
		ContentID: contentID,
		Action:    action,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign action token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims
func (s *Signer) Parse(tokenString string) (*ActionClaims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidLink)
	}
	claims := &ActionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLink, err)
	}
	if !token.Valid {
		return nil, ErrInvalidLink
	}
	if claims.Action != ActionApprove && claims.Action != ActionReject {
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidLink, claims.Action)
	}
	return claims, nil
}

// Links builds the approve/reject buttons of an approval request
type Links struct {
	BaseURL string
	Signer  *Signer
}

// Actions returns the approve and reject buttons for the selected content of a job
func (l *Links) Actions(jobID, contentID uuid.UUID) ([]Action, error) {
	if l == nil || l.Signer == nil || l.BaseURL == "" {
		return nil, nil
	}
	actions := make([]Action, 0, 2)
	for _, a := range []struct{ label, action string }{
		{"Approve", ActionApprove},
		{"Reject", ActionReject},
	} {
		token, err := l.Signer.Sign(jobID, contentID, a.action)
		if err != nil {
			return nil, err
		}
		actions = append(actions, Action{
			Label: a.label,
			URL:   strings.TrimRight(l.BaseURL, "/") + "/api/actions/" + url.PathEscape(token),
		})
	}
	return actions, nil
}
