package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Resolver resolves a DID or handle to its document.
type Resolver interface {
	// Resolve retrieves the DID document for a DID URI. Handles must
	// already be resolved to a DID by the caller.
	Resolve(ctx context.Context, didOrHandle string) (*Document, error)
}

// MethodResolver dispatches resolution by DID method (did:plc, did:web)
// to a method-specific fetcher, mirroring a per-chain dispatch table but
// keyed on the AT-Proto method segment instead of a blockchain name.
type MethodResolver struct {
	httpClient *http.Client
	plcBaseURL string
	resolvers  map[string]func(ctx context.Context, did DID) (*Document, error)
}

// NewMethodResolver creates a resolver for did:plc and did:web, using
// plcBaseURL (typically "https://plc.directory") to fetch PLC documents.
func NewMethodResolver(httpClient *http.Client, plcBaseURL string) *MethodResolver {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	r := &MethodResolver{httpClient: httpClient, plcBaseURL: strings.TrimRight(plcBaseURL, "/")}
	r.resolvers = map[string]func(ctx context.Context, did DID) (*Document, error){
		"plc": r.resolvePLC,
		"web": r.resolveWeb,
	}
	return r
}

// Resolve implements Resolver.
func (r *MethodResolver) Resolve(ctx context.Context, didOrHandle string) (*Document, error) {
	if !strings.HasPrefix(didOrHandle, "did:") {
		return nil, fmt.Errorf("%w: %q is a handle, not a DID; resolve it out-of-band first", ErrMalformedDID, didOrHandle)
	}

	parts := strings.SplitN(didOrHandle, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: %q", ErrMalformedDID, didOrHandle)
	}

	method := parts[1]
	fetch, ok := r.resolvers[method]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported DID method %q", ErrMalformedDID, method)
	}

	return fetch(ctx, DID(didOrHandle))
}

func (r *MethodResolver) resolvePLC(ctx context.Context, did DID) (*Document, error) {
	url := fmt.Sprintf("%s/%s", r.plcBaseURL, did)
	return r.fetchDocument(ctx, url, did)
}

func (r *MethodResolver) resolveWeb(ctx context.Context, did DID) (*Document, error) {
	// did:web:example.com[:path:segments] -> https://example.com/[path/segments/]did.json
	rest := strings.TrimPrefix(string(did), "did:web:")
	segments := strings.Split(rest, ":")
	host := segments[0]
	path := "/.well-known/did.json"
	if len(segments) > 1 {
		path = "/" + strings.Join(segments[1:], "/") + "/did.json"
	}
	url := fmt.Sprintf("https://%s%s", host, path)
	return r.fetchDocument(ctx, url, did)
}

func (r *MethodResolver) fetchDocument(ctx context.Context, url string, did DID) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build DID document request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch DID document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrDIDNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch DID document: unexpected status %d", resp.StatusCode)
	}

	var raw rawDIDDocument
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return raw.toDocument(did)
}

// rawDIDDocument mirrors the W3C DID document JSON shape closely enough
// to extract authentication/assertionMethod verification keys.
type rawDIDDocument struct {
	ID                 string           `json:"id"`
	AlsoKnownAs        []string         `json:"alsoKnownAs"`
	VerificationMethod []rawVerifyKey   `json:"verificationMethod"`
	Authentication     []rawKeyRef      `json:"authentication"`
	AssertionMethod    []rawKeyRef      `json:"assertionMethod"`
	Service            []rawServiceEntry `json:"service"`
}

type rawVerifyKey struct {
	ID                 string `json:"id"`
	Type               string `json:"type"`
	PublicKeyMultibase string `json:"publicKeyMultibase"`
}

// rawKeyRef allows either an inline verification-method object or a bare
// string reference into verificationMethod, per the DID core spec.
type rawKeyRef struct {
	ref    string
	inline *rawVerifyKey
}

func (k *rawKeyRef) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		k.ref = s
		return nil
	}
	var v rawVerifyKey
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	k.inline = &v
	return nil
}

type rawServiceEntry struct {
	ID              string `json:"id"`
	Type            string `json:"type"`
	ServiceEndpoint string `json:"serviceEndpoint"`
}

func (raw *rawDIDDocument) toDocument(did DID) (*Document, error) {
	byID := make(map[string]*rawVerifyKey, len(raw.VerificationMethod))
	for i := range raw.VerificationMethod {
		vm := &raw.VerificationMethod[i]
		byID[vm.ID] = vm
	}

	resolveRefs := func(refs []rawKeyRef) []VerificationKey {
		keys := make([]VerificationKey, 0, len(refs))
		for _, ref := range refs {
			var vm *rawVerifyKey
			if ref.inline != nil {
				vm = ref.inline
			} else if found, ok := byID[ref.ref]; ok {
				vm = found
			}
			if vm == nil {
				continue
			}
			keyType, keyBytes, err := decodeMultikey(vm.Type, vm.PublicKeyMultibase)
			if err != nil {
				continue
			}
			keys = append(keys, VerificationKey{ID: vm.ID, Type: keyType, KeyBytes: keyBytes})
		}
		return keys
	}

	doc := &Document{
		DID:                did,
		AlsoKnownAs:        raw.AlsoKnownAs,
		AuthenticationKeys: resolveRefs(raw.Authentication),
		AssertionKeys:      resolveRefs(raw.AssertionMethod),
	}

	for _, svc := range raw.Service {
		if svc.Type == "AtprotoPersonalDataServer" {
			doc.PDSEndpoint = svc.ServiceEndpoint
		}
	}

	return doc, nil
}
