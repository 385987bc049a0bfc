// Package identity resolves AT-Protocol DIDs to their document's
// verification keys and checks signatures over SASL challenge bytes.
package identity

import "errors"

// DID is a decentralized identifier URI, e.g. "did:plc:abc123" or
// "did:web:example.com".
type DID string

// Handle is a human-readable AT-Proto handle, e.g. "alice.bsky.social".
// Handles must be resolved to a DID out-of-band by the caller; this
// package never performs handle resolution itself.
type Handle string

// KeyType names a supported verification key curve.
type KeyType string

const (
	KeyTypeSecp256k1 KeyType = "secp256k1"
	KeyTypeEd25519   KeyType = "ed25519"
)

// VerificationKey is one usable key extracted from a DID document's
// authentication or assertionMethod sections.
type VerificationKey struct {
	ID      string
	Type    KeyType
	KeyBytes []byte
}

// Document is the subset of a DID document this resolver cares about:
// the identifier and its usable verification keys. Keys bound only to
// delegation or capability invocation are never included here.
type Document struct {
	DID                DID
	AlsoKnownAs        []string
	AuthenticationKeys []VerificationKey
	AssertionKeys      []VerificationKey
	PDSEndpoint        string
}

// AcceptableKeys returns the keys usable to verify a SASL challenge
// signature: the authentication section, falling back to
// assertionMethod when authentication carries none.
func (d *Document) AcceptableKeys() []VerificationKey {
	if len(d.AuthenticationKeys) > 0 {
		return d.AuthenticationKeys
	}
	return d.AssertionKeys
}

// Errors returned by Resolve and Verify.
var (
	ErrDIDNotFound    = errors.New("identity: DID not found")
	ErrMalformedDID    = errors.New("identity: malformed DID")
	ErrUnknownKeyType  = errors.New("identity: unknown or unsupported key type")
	ErrMalformed       = errors.New("identity: malformed challenge or signature")
	ErrNotAccepted     = errors.New("identity: signature not valid for any accepted key")
)

// VerificationResult is returned by Verify on success.
type VerificationResult struct {
	Valid      bool
	KeyTypeUsed KeyType
	KeyID      string

	// AlsoKnownAs carries the resolved document's alsoKnownAs entries
	// (spec.md §6 WHOIS 671), typically an "at://handle.example" URI
	// alongside the DID itself.
	AlsoKnownAs []string
}
