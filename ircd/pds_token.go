package ircd

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned by ParsePDSToken.
var (
	ErrMissingSub    = errors.New("ircd: token has no sub claim")
	ErrMissingPDSURL = errors.New("ircd: token has no pds_url claim")
)

// PDSToken is the subset of an external OAuth/PDS-login bearer token's
// claims the core needs: the authenticated DID (sub) and the user's PDS
// endpoint, referenced by the SASL step-3 payload's optional pds_url
// field (spec.md §6). The core never mints or cryptographically
// verifies this token — that is the external broker's job; by the time
// it reaches AUTHENTICATE, it has already been validated upstream.
type PDSToken struct {
	Subject string
	PDSURL  string
}

// ParsePDSToken reads an opaque bearer token's claims without
// verifying its signature, mirroring the teacher's unverified-parse
// step used to inspect a token ahead of (or instead of) full
// verification elsewhere in the auth pipeline.
func ParsePDSToken(tokenString string) (*PDSToken, error) {
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := unverified.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMissingSub
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrMissingSub
	}

	pdsURL, _ := claims["pds_url"].(string)
	if pdsURL == "" {
		return nil, ErrMissingPDSURL
	}

	return &PDSToken{Subject: sub, PDSURL: pdsURL}, nil
}
