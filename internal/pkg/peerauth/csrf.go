package peerauth

import (
	"time"
)

// CSRFSkew is the allowed clock skew for the CSRF cookie token, a much
// wider window than the peer token's MaxSkew: the cookie lives for the
// length of a browser session rather than a single proxied request.
const CSRFSkew = 2400 * time.Second

const csrfTokenInfo = "packhound-csrf-cookie-v1"

type csrfClaims struct {
	DateMs int64  `json:"date"`
	PID    int    `json:"pid"`
	UserID string `json:"userId"`
}

// IssueCSRF mints the cookie token set on GETs that render UI state.
func IssueCSRF(secret, userID string) (string, error) {
	return seal(secret, csrfTokenInfo, csrfClaims{
		DateMs: time.Now().UnixMilli(),
		UserID: userID,
	})
}

// VerifyCSRF checks the header token against the session's userID and
// the CSRFSkew window. The header value and the userID performing the
// mutation are supplied by the caller; issuedFor is compared to it.
func VerifyCSRF(secret, token, issuedFor string) error {
	var c csrfClaims
	if err := open(secret, csrfTokenInfo, token, &c); err != nil {
		return err
	}
	if c.UserID != issuedFor {
		return ErrPathMismatch
	}
	age := time.Since(time.UnixMilli(c.DateMs))
	if age < 0 {
		age = -age
	}
	if age > CSRFSkew {
		return ErrExpired
	}
	return nil
}
