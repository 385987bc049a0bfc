package ircd

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/didirc/icd/identity"
	"github.com/didirc/icd/internal/metrics"
)

// challengeState is the lifecycle of one issued SASL challenge
// (spec.md §3 Challenge: issued, consumed, expired).
type challengeState int

const (
	challengeIssued challengeState = iota
	challengeConsumed
	challengeExpired
)

// challengeBlob is the JSON payload base64url-encoded into the
// `AUTHENTICATE <blob>` server line.
type challengeBlob struct {
	SessionID string    `json:"session_id"`
	Nonce     string    `json:"nonce"`
	IssuedAt  time.Time `json:"issued_at"`
}

// challenge is the server-side bookkeeping record for one in-flight
// SASL round trip. Exactly one active challenge exists per session
// (spec.md §3): issuing a new one discards any prior record for that
// session id.
type challenge struct {
	mu       sync.Mutex
	state    challengeState
	raw      []byte // the exact base64url-decoded blob bytes signed by the client
	issuedAt time.Time
}

// SASLEngine issues and verifies ATPROTO-CHALLENGE SASL round trips. One
// engine is shared by every connection actor on a server instance.
type SASLEngine struct {
	ttl      time.Duration
	resolver identity.Resolver

	mu         sync.Mutex
	challenges map[uint64]*challenge
}

// NewSASLEngine creates an engine with the given challenge TTL (hard cap
// 60s per spec.md §4.5/§5) and identity resolver.
func NewSASLEngine(ttl time.Duration, resolver identity.Resolver) *SASLEngine {
	if ttl <= 0 || ttl > 60*time.Second {
		ttl = 60 * time.Second
	}
	return &SASLEngine{
		ttl:        ttl,
		resolver:   resolver,
		challenges: make(map[uint64]*challenge),
	}
}

// Issue mints a fresh challenge for sessionID and returns the base64url
// blob to send as the `AUTHENTICATE` response.
func (e *SASLEngine) Issue(sessionID uint64) (string, error) {
	nonce := make([]byte, 16) // >= 128 bits per spec.md §3/§4.5
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("sasl: generate nonce: %w", err)
	}

	now := time.Now().UTC()
	blob := challengeBlob{
		SessionID: fmt.Sprintf("%d", sessionID),
		Nonce:     base64.RawURLEncoding.EncodeToString(nonce),
		IssuedAt:  now,
	}
	raw, err := json.Marshal(blob)
	if err != nil {
		return "", fmt.Errorf("sasl: marshal challenge: %w", err)
	}

	c := &challenge{state: challengeIssued, raw: raw, issuedAt: now}

	e.mu.Lock()
	e.challenges[sessionID] = c
	e.mu.Unlock()

	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// saslResponse is the decoded client payload from step 3 of §4.5.
type saslResponse struct {
	DID       string `json:"did"`
	Method    string `json:"method"`
	Signature string `json:"signature"`
	PDSURL    string `json:"pds_url,omitempty"`
}

// ParseResponse decodes the concatenated (possibly fragment-reassembled)
// base64url client response payload.
func ParseResponse(encoded string) (*saslResponse, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		// Some clients pad; tolerate standard encoding too.
		raw, err = base64.URLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid base64url response", ErrSASLInvalid)
		}
	}
	var resp saslResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSASLInvalid, err)
	}
	if resp.DID == "" || resp.Signature == "" {
		return nil, fmt.Errorf("%w: missing did or signature", ErrSASLInvalid)
	}
	return &resp, nil
}

// Verify implements §4.5 step 4: reject expired/replayed challenges,
// mark consumed before any further I/O, resolve the DID, and verify the
// signature over the exact challenge bytes.
func (e *SASLEngine) Verify(ctx context.Context, sessionID uint64, resp *saslResponse) (*identity.VerificationResult, error) {
	e.mu.Lock()
	c, ok := e.challenges[sessionID]
	e.mu.Unlock()
	if !ok {
		metrics.SASLAttempts.WithLabelValues("no_challenge").Inc()
		return nil, ErrSASLExpired
	}

	c.mu.Lock()
	if c.state != challengeIssued {
		c.mu.Unlock()
		metrics.SASLAttempts.WithLabelValues("replayed").Inc()
		return nil, ErrSASLExpired
	}
	if time.Since(c.issuedAt) > e.ttl {
		c.state = challengeExpired
		c.mu.Unlock()
		metrics.SASLAttempts.WithLabelValues("expired").Inc()
		return nil, ErrSASLExpired
	}
	// Mark consumed before any network I/O follows (§4.5 step 4b).
	c.state = challengeConsumed
	raw := c.raw
	c.mu.Unlock()

	sigBytes, err := decodeSignature(resp.Signature)
	if err != nil {
		metrics.SASLAttempts.WithLabelValues("bad_signature").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSASLInvalid, err)
	}

	doc, err := e.resolver.Resolve(ctx, resp.DID)
	if err != nil {
		metrics.SASLAttempts.WithLabelValues("resolve_failed").Inc()
		return nil, fmt.Errorf("%w: resolve DID: %v", ErrSASLInvalid, err)
	}

	result, err := identity.Verify(doc, raw, sigBytes)
	if err != nil {
		metrics.SASLAttempts.WithLabelValues("bad_signature").Inc()
		return nil, fmt.Errorf("%w: %v", ErrSASLInvalid, err)
	}

	metrics.SASLAttempts.WithLabelValues("success").Inc()
	return result, nil
}

// Discard drops sessionID's challenge record (connection close, guest
// fallback after SASL failure).
func (e *SASLEngine) Discard(sessionID uint64) {
	e.mu.Lock()
	delete(e.challenges, sessionID)
	e.mu.Unlock()
}

func decodeSignature(sig string) ([]byte, error) {
	if b, err := base64.RawURLEncoding.DecodeString(sig); err == nil {
		return b, nil
	}
	return base64.URLEncoding.DecodeString(sig)
}
