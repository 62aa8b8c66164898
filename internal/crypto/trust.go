package crypto

import (
	"bufio"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/logging"
)

var log = logging.L("crypto")

// TrustDecision controls what happens when an endpoint's host identity
// has never been seen before. Secure by default: a non-interactive
// (e.g. --snapshot) client refuses rather than silently pinning.
type TrustDecision int

const (
	// TrustRefuse aborts the connection with ErrHostIdentityUnknown.
	TrustRefuse TrustDecision = iota
	// TrustAcceptOnce pins the fingerprint for this run without
	// persisting it.
	TrustAcceptOnce
	// TrustAcceptAndPin pins the fingerprint to the persistent store.
	TrustAcceptAndPin
)

// ErrHostIdentityUnknown is returned when an endpoint has no pinned
// fingerprint and the caller must make a trust decision.
type ErrHostIdentityUnknown struct {
	Endpoint    string
	Fingerprint string
}

func (e *ErrHostIdentityUnknown) Error() string {
	return fmt.Sprintf("crypto: unknown host identity for %s (fingerprint %s)", e.Endpoint, e.Fingerprint)
}

// Store is a TOFU trust store: a persistent map from peer endpoint to
// pinned Ed25519 public key fingerprint, backed by an append-only file
// of `endpoint -> fingerprint` records with creation time.
type Store struct {
	mu       sync.RWMutex
	path     string
	pins     map[string]string // endpoint -> fingerprint
	insecure bool
}

// OpenStore loads (or creates) the trust store at path. If path is
// empty, ASCII_CHAT_TRUST_STORE is consulted; if that too is empty, an
// in-memory-only store is returned (nothing is persisted).
func OpenStore(path string) (*Store, error) {
	if path == "" {
		path = os.Getenv("ASCII_CHAT_TRUST_STORE")
	}
	s := &Store{
		path:     path,
		pins:     make(map[string]string),
		insecure: os.Getenv("ASCII_CHAT_INSECURE_NO_HOST_IDENTITY_CHECK") == "true",
	}
	if s.insecure {
		log.Warn("ASCII_CHAT_INSECURE_NO_HOST_IDENTITY_CHECK is set; host identity verification is disabled")
	}
	if path == "" {
		return s, nil
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("crypto: open trust store: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// endpoint fingerprint created_at_rfc3339
		fields := strings.Fields(line)
		if len(fields) < 2 {
			log.Warn("ignoring malformed trust store line", "line", line)
			continue
		}
		s.pins[fields[0]] = fields[1]
	}
	return scanner.Err()
}

// Lookup returns the pinned fingerprint for endpoint, if any.
func (s *Store) Lookup(endpoint string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.pins[endpoint]
	return fp, ok
}

// Verify checks peerPub's fingerprint against any pin for endpoint,
// applying decision when there is no pin yet. A mismatch on an
// existing pin always fails closed with ErrHostIdentityMismatch,
// regardless of decision.
func (s *Store) Verify(endpoint string, peerPub ed25519.PublicKey, decision TrustDecision) error {
	if s.insecure {
		return nil
	}

	fp := fingerprintOf(peerPub)

	pinned, ok := s.Lookup(endpoint)
	if ok {
		if pinned != fp {
			return ErrHostIdentityMismatch
		}
		return nil
	}

	switch decision {
	case TrustAcceptOnce:
		s.pin(endpoint, fp, false)
		return nil
	case TrustAcceptAndPin:
		s.pin(endpoint, fp, true)
		return nil
	default:
		return &ErrHostIdentityUnknown{Endpoint: endpoint, Fingerprint: fp}
	}
}

func (s *Store) pin(endpoint, fingerprint string, persist bool) {
	s.mu.Lock()
	s.pins[endpoint] = fingerprint
	s.mu.Unlock()

	if !persist || s.path == "" {
		return
	}

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		log.Error("failed to persist trust pin", "endpoint", endpoint, "error", err)
		return
	}
	defer f.Close()

	line := fmt.Sprintf("%s %s %s\n", endpoint, fingerprint, time.Now().UTC().Format(time.RFC3339))
	if _, err := f.WriteString(line); err != nil {
		log.Error("failed to write trust pin", "endpoint", endpoint, "error", err)
	}
}

func fingerprintOf(pub ed25519.PublicKey) string {
	id := &Identity{Public: pub}
	return id.Fingerprint()
}
