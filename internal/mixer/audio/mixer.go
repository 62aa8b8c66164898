// Package audio implements the server-side per-recipient audio mixer:
// summing every other visible source's latest audio window (resampled to
// 48 kHz mono, self-excluded), soft-limited to avoid clipping. Every
// recipient receives the same 48 kHz mono format; recipients do not
// declare an audio rate.
// Runs independently of the video mixer at a cadence matching the
// configured window size. Written in the small stateless-transform-
// with-config-struct style of internal/remote/desktop/adaptive_quality.go.
package audio

import (
	"sync"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/logging"
	"github.com/ascii-chat/ascii-chat/internal/metrics"
	"github.com/ascii-chat/ascii-chat/internal/mixer"
)

var log = logging.L("mixer.audio")

// Options configures the mixer's tick cadence and limiter.
type Options struct {
	WindowMs int
	// LimiterThreshold is the soft-limiter's knee, in the same units as
	// AudioFrame.Samples (post-sum peak beyond which gain is reduced).
	LimiterThreshold float32
}

func (o Options) windowDuration() time.Duration {
	if o.WindowMs <= 0 {
		return 20 * time.Millisecond
	}
	return time.Duration(o.WindowMs) * time.Millisecond
}

func (o Options) threshold() float32 {
	if o.LimiterThreshold <= 0 {
		return 0.891 // approx -1 dBFS
	}
	return o.LimiterThreshold
}

// Metrics tracks per-tick mixer activity.
type Metrics struct {
	mu sync.RWMutex

	TicksRun      uint64
	RecipientsOut uint64
	LastTickNS    int64
}

func (m *Metrics) recordTick(d time.Duration, recipients int) {
	m.mu.Lock()
	m.TicksRun++
	m.RecipientsOut += uint64(recipients)
	m.LastTickNS = d.Nanoseconds()
	m.mu.Unlock()
	metrics.AudioMixerTickSeconds.Observe(d.Seconds())
}

// Snapshot returns a point-in-time copy of the mixer's metrics.
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{TicksRun: m.TicksRun, RecipientsOut: m.RecipientsOut, LastTickNS: m.LastTickNS}
}

// Mixer composites, at a fixed cadence, one summed-and-limited audio
// window per recipient from every other visible source's latest window.
type Mixer struct {
	opts    Options
	peers   mixer.PeerSource
	metrics Metrics
}

// NewMixer constructs an audio mixer reading sources/recipients from
// peers on every tick.
func NewMixer(opts Options, peers mixer.PeerSource) *Mixer {
	return &Mixer{opts: opts, peers: peers}
}

// Metrics returns a snapshot of this mixer's running counters.
func (m *Mixer) Metrics() Metrics { return m.metrics.Snapshot() }

// Run ticks at the configured window cadence until stop is closed.
func (m *Mixer) Run(stop <-chan struct{}) {
	ticker := time.NewTicker(m.opts.windowDuration())
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Mixer) tick() {
	start := time.Now()
	peers := m.peers.Peers()

	sent := 0
	for _, recipient := range peers {
		if !recipient.AudioEnabled() {
			continue
		}
		m.composeFor(recipient, peers)
		sent++
	}
	m.metrics.recordTick(time.Since(start), sent)
}

// composeFor sums every other audible, unmuted source's latest window
// into one 48 kHz mono window and sends it. Panics from
// a malformed source frame are recovered per recipient.
func (m *Mixer) composeFor(recipient mixer.Peer, peers []mixer.Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic composing recipient audio", "clientId", recipient.ClientID(), "panic", r)
		}
	}()

	targetRate, targetChannels := 48000, 1
	windowSamples := int(float64(targetRate) * m.opts.windowDuration().Seconds())
	sum := make([]float32, windowSamples*targetChannels)

	for _, src := range peers {
		if src.ClientID() == recipient.ClientID() {
			continue
		}
		if !src.AudioEnabled() || src.MuteAudio() {
			continue
		}
		frame := src.LatestAudioFrame()
		if frame == nil {
			continue // missing input contributes silence
		}
		resampled := resampleTo(frame, targetRate, targetChannels)
		n := len(resampled)
		if n > len(sum) {
			n = len(sum)
		}
		for i := 0; i < n; i++ {
			sum[i] += resampled[i]
		}
	}

	softLimit(sum, m.opts.threshold())

	payload := encodeAudioFrame(sum, targetRate, targetChannels)
	_ = recipient.SendAudioFrame(payload)
}

// resampleTo linearly resamples frame to targetRate/targetChannels.
// Mono down/up-mix averages (down) or duplicates (up) channels.
func resampleTo(frame *mixer.AudioFrame, targetRate, targetChannels int) []float32 {
	samples := frame.Samples
	if frame.Channels > 1 && targetChannels == 1 {
		samples = downmixToMono(samples, frame.Channels)
	}
	if frame.SampleRateHz == targetRate || frame.SampleRateHz <= 0 {
		return samples
	}
	return linearResample(samples, frame.SampleRateHz, targetRate)
}

func downmixToMono(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	n := len(samples) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func linearResample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || len(samples) == 0 {
		return samples
	}
	ratio := float64(srcRate) / float64(dstRate)
	n := int(float64(len(samples)) / ratio)
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		srcPos := float64(i) * ratio
		i0 := int(srcPos)
		frac := float32(srcPos - float64(i0))
		if i0+1 < len(samples) {
			out[i] = samples[i0]*(1-frac) + samples[i0+1]*frac
		} else if i0 < len(samples) {
			out[i] = samples[i0]
		}
	}
	return out
}

// softLimit applies a tanh-like soft knee above threshold in place, so a
// burst of simultaneous speakers attenuates gracefully instead of
// clipping.
func softLimit(samples []float32, threshold float32) {
	for i, s := range samples {
		mag := s
		if mag < 0 {
			mag = -mag
		}
		if mag <= threshold {
			continue
		}
		sign := float32(1)
		if s < 0 {
			sign = -1
		}
		over := mag - threshold
		compressed := threshold + over/(1+over)
		if compressed > 1 {
			compressed = 1
		}
		samples[i] = sign * compressed
	}
}

func encodeAudioFrame(samples []float32, rate, channels int) []byte {
	return mixerAudioPayload{SampleRateHz: rate, Channels: channels, Samples: samples}.marshal()
}
