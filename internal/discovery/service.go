package discovery

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/config"
	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/metrics"
)

// Service is the ACDS HTTP endpoint: register/lookup/relay-sdp/relay-ice
// /refresh/healthz, routed on one bare http.ServeMux rather than a web
// framework.
type Service struct {
	opts     *config.DiscoveryOptions
	identity *crypto.Identity
	registry *Registry
	relay    *relay
	limiter  *ratelimiter

	httpSrv *http.Server
}

// NewService wires a Service from already-loaded options, the
// service's own signing identity, and an optional Store (nil disables
// persistence).
func NewService(opts *config.DiscoveryOptions, identity *crypto.Identity, store *Store) *Service {
	ttl := time.Duration(opts.SessionTTLSeconds) * time.Second
	s := &Service{
		opts:     opts,
		identity: identity,
		registry: NewRegistry(ttl, store),
		relay:    newRelay(opts.MaxInFlightSDUPerSession),
		limiter:  newRateLimiter(opts.RateLimitPerIPPerMin),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/register", s.withRateLimit(s.handleRegister))
	mux.HandleFunc("/v1/lookup", s.withRateLimit(s.handleLookup))
	mux.HandleFunc("/v1/refresh", s.withRateLimit(s.handleRefresh))
	mux.HandleFunc("/v1/unregister", s.withRateLimit(s.handleUnregister))
	mux.HandleFunc("/v1/relay/sdp", s.withRateLimit(s.handleRelaySDP))
	mux.HandleFunc("/v1/relay/ice", s.withRateLimit(s.handleRelayICE))
	mux.HandleFunc("/v1/relay/poll", s.withRateLimit(s.handleRelayPoll))
	mux.HandleFunc("/healthz", s.handleHealthz)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Serve accepts on ln until ctx is canceled, then shuts down gracefully.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.httpSrv.Serve(ln) }()

	sweepStop := make(chan struct{})
	go s.sweepLoop(sweepStop)

	select {
	case err := <-errCh:
		close(sweepStop)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		close(sweepStop)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	}
}

func (s *Service) sweepLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if n := s.registry.Sweep(); n > 0 {
				log.Info("swept expired sessions", "count", n)
			}
			metrics.DiscoverySessionsActive.Set(float64(s.registry.Count()))
		}
	}
}

// Count exposes live session count for metrics.
func (s *Service) Count() int { return s.registry.Count() }

func (s *Service) withRateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr := clientAddr(r)
		if addr.IsValid() && !s.limiter.Allow(addr) {
			metrics.DiscoveryRateLimitedTotal.Inc()
			writeError(w, http.StatusTooManyRequests, ErrRateLimited)
			return
		}
		sc := &statusCapture{ResponseWriter: w, status: http.StatusOK}
		next(sc, r)
		metrics.DiscoveryRequestsTotal.WithLabelValues(r.URL.Path, statusClass(sc.status)).Inc()
	}
}

// statusCapture records the status code a handler wrote, for metrics
// labeling, without altering ResponseWriter semantics.
type statusCapture struct {
	http.ResponseWriter
	status int
}

func (c *statusCapture) WriteHeader(status int) {
	c.status = status
	c.ResponseWriter.WriteHeader(status)
}

func statusClass(status int) string {
	switch status / 100 {
	case 2:
		return "2xx"
	case 3:
		return "3xx"
	case 4:
		return "4xx"
	case 5:
		return "5xx"
	default:
		return "other"
	}
}

func clientAddr(r *http.Request) netip.Addr {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr
}

type registerRequest struct {
	HostPubkey string   `json:"hostPubkey"` // hex
	Endpoints  []string `json:"endpoints"`
}

type registerResponse struct {
	SessionString string    `json:"sessionString"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrInvalidRequest)
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Endpoints) == 0 {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	pub, err := crypto.VerifyFingerprint(req.HostPubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	sess, err := s.registry.Register(pub, req.Endpoints)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{SessionString: sess.SessionString, ExpiresAt: sess.ExpiresAt})
}

func (s *Service) handleLookup(w http.ResponseWriter, r *http.Request) {
	sessionString := r.URL.Query().Get("session")
	if sessionString == "" {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	sess, err := s.registry.Lookup(sessionString)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	result := &LookupResult{
		Endpoints:     sess.Endpoints,
		HostPubkey:    sess.HostPubkey,
		ServicePubkey: s.identity.Public,
		StunServers:   s.opts.StunServers,
	}
	if len(s.opts.TurnServers) > 0 && s.opts.TurnSecret != "" {
		user, pass := s.mintTURNCredential()
		result.TurnServer = s.opts.TurnServers[0]
		result.TurnUsername = user
		result.TurnCredential = pass
	}
	result.Signature = s.identity.Sign(result.signedBytes())
	writeJSON(w, http.StatusOK, result)
}

// mintTURNCredential implements the coturn REST-API long-term-credential
// scheme: username is a short-lived Unix expiry timestamp, password is
// a base64-encoded HMAC-SHA1 over the username keyed by the shared
// TURN secret.
func (s *Service) mintTURNCredential() (username, password string) {
	expiry := time.Now().Add(time.Duration(s.opts.LookupTimeoutSeconds+3600) * time.Second).Unix()
	username = strconv.FormatInt(expiry, 10)
	mac := hmac.New(sha1.New, []byte(s.opts.TurnSecret))
	mac.Write([]byte(username))
	password = base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return username, password
}

type refreshRequest struct {
	SessionString string `json:"sessionString"`
	HostPubkey    string `json:"hostPubkey"`
}

func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrInvalidRequest)
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	pub, err := crypto.VerifyFingerprint(req.HostPubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	sess, err := s.registry.Refresh(req.SessionString, pub)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{SessionString: sess.SessionString, ExpiresAt: sess.ExpiresAt})
}

func (s *Service) handleUnregister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrInvalidRequest)
		return
	}
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	pub, err := crypto.VerifyFingerprint(req.HostPubkey)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	if err := s.registry.Unregister(req.SessionString, pub); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.relay.DropSession(canonicalizeSessionString(req.SessionString))
	w.WriteHeader(http.StatusNoContent)
}

type relayPushRequest struct {
	SessionString string `json:"sessionString"`
	From          string `json:"from"`
	To            string `json:"to"`
	Payload       string `json:"payload"`
}

func (s *Service) handleRelaySDP(w http.ResponseWriter, r *http.Request) {
	s.handleRelayPush(w, r, "sdp")
}

func (s *Service) handleRelayICE(w http.ResponseWriter, r *http.Request) {
	s.handleRelayPush(w, r, "ice")
}

func (s *Service) handleRelayPush(w http.ResponseWriter, r *http.Request, kind string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, ErrInvalidRequest)
		return
	}
	var req relayPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.From == "" || req.To == "" {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	sessionString := canonicalizeSessionString(req.SessionString)
	if _, err := s.registry.Lookup(sessionString); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	msg := relayMessage{From: req.From, Kind: kind, Payload: req.Payload}
	if err := s.relay.Push(sessionString, req.To, msg); err != nil {
		writeError(w, http.StatusTooManyRequests, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleRelayPoll(w http.ResponseWriter, r *http.Request) {
	sessionString := canonicalizeSessionString(r.URL.Query().Get("session"))
	to := r.URL.Query().Get("to")
	if sessionString == "" || to == "" {
		writeError(w, http.StatusBadRequest, ErrInvalidRequest)
		return
	}
	msgs := s.relay.Drain(sessionString, to)
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Service) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.registry.Count(),
	})
}

func statusFor(err error) int {
	switch err {
	case ErrSessionNotFound, ErrSessionExpired:
		return http.StatusNotFound
	case ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrInboxFull:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
