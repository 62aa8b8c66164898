// Package server implements the session and media plane shared by every
// ascii-chat server process: accepting transport sessions, running the
// crypto handshake, holding per-client state in a read-mostly registry,
// and driving the video and audio mixers.
package server

import (
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/config"
	"github.com/ascii-chat/ascii-chat/internal/crypto"
	"github.com/ascii-chat/ascii-chat/internal/metrics"
	"github.com/ascii-chat/ascii-chat/internal/mixer/audio"
	"github.com/ascii-chat/ascii-chat/internal/mixer/video"
	"github.com/ascii-chat/ascii-chat/internal/transport"
	"github.com/ascii-chat/ascii-chat/internal/wire"
	"github.com/ascii-chat/ascii-chat/internal/workerpool"
)

// ServerContext owns every subsystem a running server needs and is
// constructed once at startup, replacing any hidden globals in the hot
// path.
type ServerContext struct {
	Options  *config.ServerOptions
	Identity *crypto.Identity
	Registry *Registry

	VideoMixer *video.Mixer
	AudioMixer *audio.Mixer

	pool *workerpool.Pool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewServerContext wires options, a host identity, and the two mixers
// into one context. Callers typically run one per server process.
func NewServerContext(opts *config.ServerOptions, identity *crypto.Identity) *ServerContext {
	sc := &ServerContext{
		Options:  opts,
		Identity: identity,
		Registry: NewRegistry(),
		pool:     workerpool.New(4, 256),
		stopCh:   make(chan struct{}),
	}
	sc.VideoMixer = video.NewMixer(video.Options{TargetFPS: opts.TargetFPS, Pool: sc.pool}, sc.Registry)
	sc.AudioMixer = audio.NewMixer(audio.Options{WindowMs: opts.AudioWindowMs}, sc.Registry)
	return sc
}

// Run starts the heartbeat/eviction reaper and both mixers, blocking
// until Shutdown is called.
func (sc *ServerContext) Run() {
	sc.wg.Add(1)
	go sc.reapLoop()

	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		sc.VideoMixer.Run(sc.stopCh)
	}()

	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		sc.AudioMixer.Run(sc.stopCh)
	}()

	sc.wg.Add(1)
	go sc.resourceSampleLoop()

	<-sc.stopCh
}

// Shutdown cancels every session then waits up to ShutdownGraceSeconds
// before returning.
func (sc *ServerContext) Shutdown() {
	sc.stopOnce.Do(func() {
		close(sc.stopCh)
		for _, c := range sc.Registry.Shutdown() {
			sc.evict(c, EvictShutdown)
		}
		sc.pool.StopAccepting()
		done := make(chan struct{})
		go func() { sc.wg.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(time.Duration(sc.Options.ShutdownGraceSeconds) * time.Second):
			log.Warn("shutdown grace period elapsed with tasks still running")
		}
	})
}

// Accept runs the full lifecycle of one inbound connection: open (via the
// caller-supplied opener, which defers constructing the transport.Session
// until Events are ready), handshake, registration, and the packet read
// loop, returning once the client disconnects or is evicted.
func (sc *ServerContext) Accept(open func(transport.Events) transport.Session) {
	cs := newConnState()
	sess := open(cs.events())
	cs.sess = sess

	result, err := sc.acceptHandshake(cs)
	if err != nil {
		log.Warn("handshake failed", "error", err)
		sess.Close(transport.ReasonHandshakeFailed)
		return
	}

	if sc.Registry.Count() >= sc.Options.MaxClients {
		cs.reject("server_full")
		sess.Close(transport.ReasonProtocolViolation)
		return
	}

	clientID := sc.Registry.AllocateID()
	c := NewClient(clientID, hex.EncodeToString(result.PeerPublic), sess, result.Recv)
	c.Stream = result.Send
	recvStream := result.Recv

	accept, _ := json.Marshal(SessionAcceptWire{ClientID: clientID})
	sess.Send(encodeSealed(c.Stream, wire.KindSessionAccept, clientID, c.nextSendSeq(), accept))

	if !sc.Registry.Insert(c) {
		sess.Close(transport.ReasonLocalClose)
		return
	}
	metrics.ClientsConnected.Set(float64(sc.Registry.Count()))
	log.Info("client accepted", "clientId", clientID, "fingerprint", c.Fingerprint)

	sc.readLoop(c, cs, recvStream)
}

// readLoop consumes packets off cs.recvCh for the lifetime of one client,
// decrypting and dispatching each, until the session closes or a
// terminal condition evicts it.
func (sc *ServerContext) readLoop(c *Client, cs *connState, recvStream *crypto.Stream) {
	defer func() {
		sc.Registry.Remove(c.ClientID())
		metrics.ClientsConnected.Set(float64(sc.Registry.Count()))
		log.Info("client disconnected", "clientId", c.ClientID())
	}()

	for {
		select {
		case raw := <-cs.recvCh:
			pkt, plaintext, err := decodeSealed(recvStream, raw)
			if err != nil {
				log.Warn("dropping packet, decode/decrypt failed", "clientId", c.ClientID(), "error", err)
				sc.evict(c, EvictProtocolViolation)
				return
			}
			if sc.onPacket(c, pkt, plaintext) {
				sc.evict(c, EvictShutdown)
				return
			}
		case reason := <-cs.closedCh:
			log.Debug("client transport closed", "clientId", c.ClientID(), "reason", reason)
			return
		case <-sc.stopCh:
			return
		}
	}
}

// evict tears down one client's session: best-effort
// SESSION_REJECT, close the transport, remove from the registry.
func (sc *ServerContext) evict(c *Client, reason EvictReason) {
	c.Stats.EvictionReason.Store(int32(reason) + 1)
	payload, _ := json.Marshal(SessionRejectWire{Reason: reason.String()})
	c.Session.Send(encodePlain(wire.KindSessionReject, c.ClientID(), 0, payload))
	c.Session.Close(transport.ReasonLocalClose)
	sc.Registry.Remove(c.ClientID())
	metrics.ClientsConnected.Set(float64(sc.Registry.Count()))
	metrics.EvictionsTotal.WithLabelValues(reason.String()).Inc()
	log.Info("client evicted", "clientId", c.ClientID(), "reason", reason)
}

// reapLoop periodically checks every client for heartbeat timeout and
// sustained slow-consumer backpressure.
func (sc *ServerContext) reapLoop() {
	defer sc.wg.Done()
	heartbeatInterval := time.Duration(sc.Options.HeartbeatIntervalSeconds) * time.Second
	heartbeatTimeout := time.Duration(sc.Options.HeartbeatTimeoutSeconds) * time.Second
	slowConsumerGrace := time.Duration(sc.Options.SlowConsumerGraceSeconds) * time.Second

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-sc.stopCh:
			return
		case <-ticker.C:
			for _, c := range sc.Registry.Snapshot() {
				if c.IdleDuration() > heartbeatTimeout {
					sc.evict(c, EvictHeartbeatTimeout)
					continue
				}
				if since := c.QueueHighSince.Load(); since != 0 {
					if time.Since(time.Unix(0, since)) > slowConsumerGrace {
						sc.evict(c, EvictSlowConsumer)
						continue
					}
				}
				sc.sendHeartbeat(c)
			}
		}
	}
}
