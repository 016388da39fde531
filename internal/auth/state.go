package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/sakif/gitreports/internal/apperror"
)

// StateTTL bounds how long a login attempt may take between the redirect to
// GitHub and the callback.
const StateTTL = 10 * time.Minute

const stateAudience = "oauth-state"

// LoginAttempt is the per-attempt context for one OAuth redirect: the nonce
// sent to GitHub as the state parameter, and a signed, expiring ticket the
// browser carries back in a cookie.
//
// The callback is handed both halves explicitly; nothing about the attempt
// lives in server memory.
type LoginAttempt struct {
	State     string
	Ticket    string
	ExpiresAt time.Time
}

// StateService issues and verifies login attempts.
type StateService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateService creates a StateService. It shares the session secret but
// uses a distinct audience, so a state ticket is never accepted as a session
// token or vice versa.
func NewStateService(secret string) (*StateService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: state secret must be at least 16 characters")
	}
	return &StateService{secret: []byte(secret), ttl: StateTTL, now: time.Now}, nil
}

type stateClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// Issue starts a new login attempt.
func (s *StateService) Issue() (*LoginAttempt, error) {
	now := s.now()
	nonce := xid.New().String()
	expires := now.Add(s.ttl)

	c := stateClaims{
		Nonce: nonce,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	ticket, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("auth: signing state ticket: %w", err)
	}
	return &LoginAttempt{State: nonce, Ticket: ticket, ExpiresAt: expires}, nil
}

// Verify checks that the state returned by GitHub belongs to the attempt the
// ticket describes and that the attempt has not expired. Every failure is an
// apperror.ErrStateMismatch.
func (s *StateService) Verify(ticket, returnedState string) error {
	if ticket == "" || returnedState == "" {
		return apperror.StateMismatch("missing OAuth state")
	}

	var c stateClaims
	_, err := jwt.ParseWithClaims(ticket, &c,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return apperror.StateMismatch("OAuth state expired")
		}
		return apperror.StateMismatch("invalid OAuth state ticket")
	}

	if subtle.ConstantTimeCompare([]byte(c.Nonce), []byte(returnedState)) != 1 {
		return apperror.StateMismatch("OAuth state does not match")
	}
	return nil
}
