package client

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/ascii-chat/ascii-chat/internal/httputil"
	"github.com/ascii-chat/ascii-chat/internal/transport"
)

// sessionStringPattern recognizes ACDS's three-lowercase-words form,
// distinguishing it from a host:port or ws(s):// endpoint.
var sessionStringPattern = regexp.MustCompile(`^[a-z]+-[a-z]+-[a-z]+$`)

// resolveEndpoint turns opts.Endpoint into a concrete address and the
// transport.Opener to dial it with. A session string is resolved
// through the discovery service first; everything else is used
// verbatim: transport is selected by the endpoint's scheme, not
// negotiated.
func (c *Client) resolveEndpoint(ctx context.Context) (string, transport.Opener, error) {
	endpoint := c.opts.Endpoint

	if sessionStringPattern.MatchString(strings.ToLower(endpoint)) {
		resolved, err := c.lookupSession(ctx, endpoint)
		if err != nil {
			return "", nil, err
		}
		if len(resolved.Endpoints) == 0 {
			return "", nil, fmt.Errorf("client: session %q has no advertised endpoints", endpoint)
		}
		endpoint = resolved.Endpoints[0]
	}

	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		if c.opts.WSOpener != nil {
			return endpoint, c.opts.WSOpener, nil
		}
		return endpoint, transport.WSOpener{}, nil
	default:
		if c.opts.TCPOpener != nil {
			return endpoint, c.opts.TCPOpener, nil
		}
		return endpoint, transport.TCPOpener{}, nil
	}
}

// lookupSession resolves a session string against
// opts.DiscoveryServiceURL and verifies the response's signature
// against the service's own pinned identity: the discovery service's
// key is pinned the same TOFU way a host's is.
func (c *Client) lookupSession(ctx context.Context, sessionString string) (*discoveryLookupResult, error) {
	if c.opts.DiscoveryServiceURL == "" {
		return nil, fmt.Errorf("client: %q looks like a session string but no discovery service is configured", sessionString)
	}
	url := strings.TrimRight(c.opts.DiscoveryServiceURL, "/") + "/v1/lookup?session=" + sessionString

	resp, err := httputil.Do(ctx, http.DefaultClient, http.MethodGet, url, nil, nil, httputil.DefaultRetryConfig())
	if err != nil {
		return nil, fmt.Errorf("client: discovery lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("client: discovery lookup returned %s", resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("client: read discovery response: %w", err)
	}
	var result discoveryLookupResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("client: malformed discovery response: %w", err)
	}

	if err := c.verifyDiscoverySignature(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// discoveryLookupResult mirrors internal/discovery.LookupResult's wire
// shape without importing that package (client and discovery are peer
// packages over HTTP, not layered on one another).
type discoveryLookupResult struct {
	Endpoints      []string `json:"endpoints"`
	HostPubkey     []byte   `json:"hostPubkey"`
	ServicePubkey  []byte   `json:"servicePubkey"`
	StunServers    []string `json:"stunServers"`
	TurnServer     string   `json:"turnServer,omitempty"`
	TurnUsername   string   `json:"turnUsername,omitempty"`
	TurnCredential string   `json:"turnCredential,omitempty"`
	Signature      []byte   `json:"signature"`
}

func (r *discoveryLookupResult) signedBytes() []byte {
	cp := *r
	cp.Signature = nil
	b, _ := json.Marshal(cp)
	return b
}

// verifyDiscoverySignature checks result's signature against the ACDS
// instance's own identity (not the host's), applying the client's
// configured trust-on-first-use decision exactly as a host identity
// would. The discovery service's pin is keyed by "acds:"+service URL
// so it can never collide with a host's own pin.
func (c *Client) verifyDiscoverySignature(result *discoveryLookupResult) error {
	if len(result.ServicePubkey) != ed25519.PublicKeySize {
		return fmt.Errorf("client: discovery response missing service identity")
	}
	servicePub := ed25519.PublicKey(result.ServicePubkey)
	if !ed25519.Verify(servicePub, result.signedBytes(), result.Signature) {
		return fmt.Errorf("client: discovery response signature invalid")
	}
	if c.opts.TrustStore == nil {
		return nil
	}
	decision := trustDecisionFor(c.opts.TrustOnFirstUse)
	if err := c.opts.TrustStore.Verify("acds:"+c.opts.DiscoveryServiceURL, servicePub, decision); err != nil {
		return fmt.Errorf("client: discovery service identity: %w", err)
	}
	return nil
}
