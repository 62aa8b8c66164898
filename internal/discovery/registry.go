package discovery

import (
	"crypto/ed25519"
	"sync"
	"time"
)

// shardCount is the number of lock-striped buckets the session registry
// is split across, so a multi-threaded service avoids a single global
// lock.
const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// Registry is the in-memory, sharded-lock session table. A Store, if
// configured, mirrors it to disk so restarts don't discard live
// sessions outright (best effort — see store.go).
type Registry struct {
	shards [shardCount]*shard
	ttl    time.Duration
	store  *Store // nil if persistence is disabled
}

// NewRegistry builds an empty registry with the given session TTL. If
// store is non-nil its rows are loaded to repopulate the registry.
func NewRegistry(ttl time.Duration, store *Store) *Registry {
	r := &Registry{ttl: ttl, store: store}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	if store != nil {
		rows, err := store.LoadAll()
		if err != nil {
			log.Warn("discovery store load failed, starting empty", "error", err)
		}
		now := time.Now()
		for _, s := range rows {
			if s.ExpiresAt.Before(now) {
				continue
			}
			r.shardFor(s.SessionString).sessions[s.SessionString] = s
		}
	}
	return r
}

func (r *Registry) shardFor(sessionString string) *shard {
	var h uint32
	for i := 0; i < len(sessionString); i++ {
		h = h*31 + uint32(sessionString[i])
	}
	return r.shards[h%shardCount]
}

// Register allocates a new session string (retrying on the rare
// collision) and stores the session under it.
func (r *Registry) Register(hostPubkey ed25519.PublicKey, endpoints []string) (*Session, error) {
	now := time.Now()
	for attempt := 0; attempt < 8; attempt++ {
		str, err := newSessionString()
		if err != nil {
			return nil, err
		}
		sh := r.shardFor(str)
		sh.mu.Lock()
		if _, exists := sh.sessions[str]; exists {
			sh.mu.Unlock()
			continue
		}
		sess := &Session{
			SessionString: str,
			HostPubkey:    append([]byte(nil), hostPubkey...),
			Endpoints:     append([]string(nil), endpoints...),
			CreatedAt:     now,
			ExpiresAt:     now.Add(r.ttl),
		}
		sh.sessions[str] = sess
		sh.mu.Unlock()
		r.persist(sess)
		return sess, nil
	}
	return nil, ErrInvalidRequest
}

// Lookup returns the live session for str, or ErrSessionNotFound /
// ErrSessionExpired.
func (r *Registry) Lookup(str string) (*Session, error) {
	str = canonicalizeSessionString(str)
	sh := r.shardFor(str)
	sh.mu.RLock()
	sess, ok := sh.sessions[str]
	sh.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.ExpiresAt.Before(time.Now()) {
		return nil, ErrSessionExpired
	}
	cp := *sess
	return &cp, nil
}

// Refresh extends str's TTL, verifying hostPubkey matches the
// registering host so only the host that created a session can renew
// it.
func (r *Registry) Refresh(str string, hostPubkey ed25519.PublicKey) (*Session, error) {
	str = canonicalizeSessionString(str)
	sh := r.shardFor(str)
	sh.mu.Lock()
	sess, ok := sh.sessions[str]
	if !ok {
		sh.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	if !constantTimeEqual(sess.HostPubkey, hostPubkey) {
		sh.mu.Unlock()
		return nil, ErrInvalidRequest
	}
	sess.ExpiresAt = time.Now().Add(r.ttl)
	cp := *sess
	sh.mu.Unlock()
	r.persist(&cp)
	return &cp, nil
}

// Unregister removes str immediately on a GOODBYE-triggered
// deregistration, verifying ownership as Refresh does.
func (r *Registry) Unregister(str string, hostPubkey ed25519.PublicKey) error {
	str = canonicalizeSessionString(str)
	sh := r.shardFor(str)
	sh.mu.Lock()
	sess, ok := sh.sessions[str]
	if !ok {
		sh.mu.Unlock()
		return ErrSessionNotFound
	}
	if !constantTimeEqual(sess.HostPubkey, hostPubkey) {
		sh.mu.Unlock()
		return ErrInvalidRequest
	}
	delete(sh.sessions, str)
	sh.mu.Unlock()
	if r.store != nil {
		if err := r.store.Delete(str); err != nil {
			log.Warn("discovery store delete failed", "session", str, "error", err)
		}
	}
	return nil
}

func (r *Registry) persist(sess *Session) {
	if r.store == nil {
		return
	}
	if err := r.store.Upsert(sess); err != nil {
		log.Warn("discovery store upsert failed", "session", sess.SessionString, "error", err)
	}
}

// Sweep deletes every session that has expired as of now. Called
// periodically from a background loop owned by Service.
func (r *Registry) Sweep() int {
	now := time.Now()
	removed := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		for str, sess := range sh.sessions {
			if sess.ExpiresAt.Before(now) {
				delete(sh.sessions, str)
				removed++
				if r.store != nil {
					if err := r.store.Delete(str); err != nil {
						log.Warn("discovery store delete failed", "session", str, "error", err)
					}
				}
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Count returns the number of live sessions, for metrics.
func (r *Registry) Count() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.sessions)
		sh.mu.RUnlock()
	}
	return n
}
