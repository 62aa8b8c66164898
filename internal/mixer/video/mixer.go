// Package video implements the server-side per-recipient video mixer:
// composing the latest frame from every other visible source into one
// ASCII grid sized to each recipient's declared terminal. Each compose
// allocates fresh grid buffers; no buffer pool is used.
package video

import (
	"sync"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/logging"
	"github.com/ascii-chat/ascii-chat/internal/metrics"
	"github.com/ascii-chat/ascii-chat/internal/mixer"
	"github.com/ascii-chat/ascii-chat/internal/workerpool"
)

var log = logging.L("mixer.video")

// Options configures the mixer's tick cadence.
type Options struct {
	TargetFPS int
	// Palette is the monotonic dim-to-bright glyph sequence used to
	// quantize luminance; glyph/Unicode selection itself stays an
	// external concern, this is just the lookup table.
	Palette Palette
	// Pool, if set, fans each tick's per-recipient compose out across
	// worker goroutines instead of composing recipients one at a time.
	// Nil runs every tick single-threaded, which is fine for small
	// rosters.
	Pool *workerpool.Pool
}

func (o Options) fps() int {
	if o.TargetFPS <= 0 {
		return 30
	}
	return o.TargetFPS
}

func (o Options) palette() Palette {
	if len(o.Palette) == 0 {
		return Palette(" .:-=+*#%@")
	}
	return o.Palette
}

// Metrics tracks per-tick performance: LastComposeNS is the compose
// time summed over the tick's recipients.
type Metrics struct {
	mu sync.RWMutex

	TicksRun      uint64
	RecipientsOut uint64
	LastTickNS    int64
	LastComposeNS int64
}

func (m *Metrics) recordTick(tickDur, composeDur time.Duration, recipients int) {
	m.mu.Lock()
	m.TicksRun++
	m.RecipientsOut += uint64(recipients)
	m.LastTickNS = tickDur.Nanoseconds()
	m.LastComposeNS = composeDur.Nanoseconds()
	m.mu.Unlock()
	metrics.VideoMixerTickSeconds.Observe(tickDur.Seconds())
}

// Snapshot returns a point-in-time copy of the mixer's metrics.
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{TicksRun: m.TicksRun, RecipientsOut: m.RecipientsOut, LastTickNS: m.LastTickNS, LastComposeNS: m.LastComposeNS}
}

// Mixer composites, at Options.TargetFPS, one ASCII grid per recipient
// from every other visible source's latest video frame.
type Mixer struct {
	opts    Options
	peers   mixer.PeerSource
	metrics Metrics
}

// NewMixer constructs a video mixer reading sources/recipients from
// peers on every tick.
func NewMixer(opts Options, peers mixer.PeerSource) *Mixer {
	return &Mixer{opts: opts, peers: peers}
}

// Metrics returns a snapshot of this mixer's running counters.
func (m *Mixer) Metrics() Metrics { return m.metrics.Snapshot() }

// Run ticks at Options.TargetFPS until stop is closed. One recipient's
// compose failure (e.g. a recovered panic) never blocks the others.
func (m *Mixer) Run(stop <-chan struct{}) {
	interval := time.Second / time.Duration(m.opts.fps())
	ticker := time.NewTicker(interval)
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

	var composeTotal time.Duration
	var composeMu sync.Mutex
	sent := 0

	if m.opts.Pool == nil {
		for _, recipient := range peers {
			if !recipient.VideoEnabled() {
				continue
			}
			t0 := time.Now()
			m.composeFor(recipient, peers)
			composeTotal += time.Since(t0)
			sent++
		}
		m.metrics.recordTick(time.Since(start), composeTotal, sent)
		return
	}

	var wg sync.WaitGroup
	for _, recipient := range peers {
		if !recipient.VideoEnabled() {
			continue
		}
		recipient := recipient
		sent++
		wg.Add(1)
		submitted := m.opts.Pool.Submit(func() {
			defer wg.Done()
			t0 := time.Now()
			m.composeFor(recipient, peers)
			d := time.Since(t0)
			composeMu.Lock()
			composeTotal += d
			composeMu.Unlock()
		})
		if !submitted {
			wg.Done()
			t0 := time.Now()
			m.composeFor(recipient, peers)
			composeMu.Lock()
			composeTotal += time.Since(t0)
			composeMu.Unlock()
		}
	}
	wg.Wait()
	m.metrics.recordTick(time.Since(start), composeTotal, sent)
}

// composeFor builds and sends one recipient's grid frame. Panics from a
// single recipient's compose (a corrupt frame, a bad palette index) are
// recovered so they cannot take the whole tick down.
func (m *Mixer) composeFor(recipient mixer.Peer, peers []mixer.Peer) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("recovered panic composing recipient frame", "clientId", recipient.ClientID(), "panic", r)
		}
	}()

	w, h := recipient.TerminalSize()
	if w <= 0 || h <= 0 {
		// A 0x0 (or negative) terminal size pauses mixing for this
		// recipient until a positive size arrives; never guess a
		// default and send anyway.
		return
	}

	sources := visibleSources(recipient, peers)
	grid := m.renderGrid(w, h, sources, recipient.ColorCapability())
	frame := marshalGridFrame(w, h, grid, 0)

	result := recipient.SendImageFrame(frame)
	_ = result // recipient tracks its own backpressure/drop accounting
}

// visibleSources returns every other peer with video enabled, in stable
// joined_at order, never including the recipient. A muted source stays
// in this set — and so keeps its slot in the layout — rendering as a
// placeholder tile instead of being dropped from the grid; see
// renderGrid.
func visibleSources(recipient mixer.Peer, peers []mixer.Peer) []mixer.Peer {
	out := make([]mixer.Peer, 0, len(peers))
	for _, p := range peers {
		if p.ClientID() == recipient.ClientID() {
			continue
		}
		if !p.VideoEnabled() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// renderGrid lays out sources into a rows x cols grid sized w x h glyph
// cells and renders each tile to a terminal-ready byte buffer (glyphs,
// color escapes, newlines). Zero sources still produces a full blank
// grid so recipients see a stable screen. A source with MuteVideo set
// renders as a no-signal placeholder tile rather than its latest frame.
func (m *Mixer) renderGrid(w, h int, sources []mixer.Peer, caps mixer.ColorCaps) []byte {
	tiles := layoutTiles(w, h, len(sources))

	grid := make([]rune, w*h)
	colorOf := make([][3]byte, w*h)
	hasColor := make([]bool, w*h)
	for i := range grid {
		grid[i] = ' '
	}

	palette := m.opts.palette()

	for _, t := range tiles {
		if t.sourceIdx < 0 {
			continue
		}
		src := sources[t.sourceIdx]
		var frame *mixer.VideoFrame
		if !src.MuteVideo() {
			frame = src.LatestVideoFrame()
		}
		m.renderTile(t, frame, palette, caps, grid, colorOf, hasColor, w)
	}

	return encodeTerminalBuffer(grid, colorOf, hasColor, w, h, caps)
}

// renderTile resamples one source frame into tile t's pixel footprint
// and writes quantized glyphs/colors into the shared grid buffers.
func (m *Mixer) renderTile(t tile, frame *mixer.VideoFrame, palette Palette, caps mixer.ColorCaps, grid []rune, colorOf [][3]byte, hasColor []bool, gridW int) {
	if frame == nil {
		fillNoSignal(t, grid, hasColor, gridW)
		return
	}
	if frame.DecodeFailed {
		fillNoSignal(t, grid, hasColor, gridW)
		return
	}

	lx, ly, lw, lh := letterboxRect(t.w, t.h, frame.Width, frame.Height)
	if lw <= 0 || lh <= 0 {
		return
	}
	cell := resampleCell(frame.Pixels, frame.Width, frame.Height, lw, lh)

	for y := 0; y < lh; y++ {
		for x := 0; x < lw; x++ {
			pi := (y*lw + x) * 3
			r, g, b := cell[pi], cell[pi+1], cell[pi+2]
			idx := Luminance(r, g, b, len(palette))

			gx := t.x + lx + x
			gy := t.y + ly + y
			gi := gy*gridW + gx

			grid[gi] = palette[idx]
			if caps != mixer.ColorNone {
				colorOf[gi] = [3]byte{r, g, b}
				hasColor[gi] = true
			}
		}
	}
}

func fillNoSignal(t tile, grid []rune, hasColor []bool, gridW int) {
	for y := 0; y < t.h; y++ {
		for x := 0; x < t.w; x++ {
			gi := (t.y+y)*gridW + (t.x + x)
			grid[gi] = noSignalGlyph
			hasColor[gi] = false
		}
	}
}

// encodeTerminalBuffer serializes the glyph/color grid into one
// terminal-ready byte buffer: per cell an optional color escape then the
// glyph, a reset and newline at end of row.
func encodeTerminalBuffer(grid []rune, colorOf [][3]byte, hasColor []bool, w, h int, caps mixer.ColorCaps) []byte {
	out := make([]byte, 0, w*h*4+h)
	lastHadColor := false
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			gi := y*w + x
			if caps != mixer.ColorNone && hasColor[gi] {
				c := colorOf[gi]
				out = append(out, ansiColorEscape(caps, c[0], c[1], c[2])...)
				lastHadColor = true
			} else if lastHadColor {
				out = append(out, colorReset...)
				lastHadColor = false
			}
			out = append(out, []byte(string(grid[gi]))...)
		}
		if lastHadColor {
			out = append(out, colorReset...)
			lastHadColor = false
		}
		out = append(out, '\n')
	}
	return out
}
