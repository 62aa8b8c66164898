package client

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ascii-chat/ascii-chat/internal/transport"
	"github.com/ascii-chat/ascii-chat/internal/wire"
)

// startConnRecvPump launches the goroutine that decrypts and dispatches
// every inbound packet for the current connection, and forwards the
// transport's closure onto c.closedCh.
func (c *Client) startConnRecvPump(cs *connState) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			select {
			case raw := <-cs.recvCh:
				c.mu.Lock()
				stream := c.recvStream
				c.mu.Unlock()
				if stream == nil {
					continue
				}
				pkt, plaintext, err := decodeSealed(stream, raw)
				if err != nil {
					log.Warn("dropping undecryptable packet", "error", err)
					continue
				}
				c.dispatch(pkt, plaintext)
			case reason := <-cs.closedCh:
				select {
				case c.closedCh <- reason:
				default:
				}
				return
			}
		}
	}()
}

func (c *Client) dispatch(pkt *wire.Packet, payload []byte) {
	switch pkt.Kind {
	case wire.KindImageFrame:
		var frame imageFrameWire
		if err := json.Unmarshal(payload, &frame); err != nil {
			log.Warn("malformed IMAGE_FRAME", "error", err)
			return
		}
		if c.opts.Render != nil {
			c.opts.Render.RenderVideo(frame.Width, frame.Height, frame.Pixels)
		}
		select {
		case c.frameCh <- struct{}{}:
		default:
		}
	case wire.KindAudioFrame:
		var frame audioFrameWire
		if err := json.Unmarshal(payload, &frame); err != nil {
			log.Warn("malformed AUDIO_FRAME", "error", err)
			return
		}
		if c.opts.Render != nil {
			c.opts.Render.RenderAudio(frame.SampleRateHz, frame.Channels, frame.Samples)
		}
	case wire.KindHeartbeat:
		c.send(wire.KindHeartbeat, nil)
	case wire.KindSessionReject:
		log.Warn("server rejected session mid-stream", "error", rejectionError(payload))
	case wire.KindGoodbye:
		log.Info("server said goodbye")
	default:
		log.Debug("ignoring unexpected packet kind", "kind", pkt.Kind)
	}
}

// streamSnapshot renders exactly one video frame for --snapshot mode,
// then sends GOODBYE and returns.
func (c *Client) streamSnapshot(ctx context.Context) error {
	if c.opts.Video != nil {
		c.captureOneVideoFrame(ctx)
	}
	select {
	case <-c.frameCh:
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(10 * time.Second):
		log.Warn("snapshot timed out waiting for a frame to render")
	}
	return nil
}

func (c *Client) captureOneVideoFrame(ctx context.Context) {
	w, h, pixels, err := c.opts.Video.NextFrame(ctx)
	if err != nil {
		log.Warn("snapshot capture failed", "error", err)
		return
	}
	payload, err := json.Marshal(imageFrameWire{Width: w, Height: h, Pixels: pixels, CaptureNS: time.Now().UnixNano()})
	if err != nil {
		return
	}
	c.send(wire.KindImageFrame, payload)
}

// streamLoop runs the steady-state capture/input fan-out until ctx is
// canceled or the connection closes, used by the (non-snapshot)
// reconnecting Run path.
func (c *Client) streamLoop(ctx context.Context) transport.ClosedReason {
	stop := make(chan struct{})
	defer close(stop)

	if c.opts.Video != nil && c.opts.VideoEnabled {
		go c.captureVideoLoop(ctx, stop)
	}
	if c.opts.Audio != nil && c.opts.AudioEnabled {
		go c.captureAudioLoop(ctx, stop)
	}
	if c.opts.Input != nil {
		go c.inputLoop(ctx, stop)
	}

	select {
	case <-ctx.Done():
		return transport.ReasonLocalClose
	case reason := <-c.closedCh:
		return reason
	}
}

// captureVideoLoop pulls frames from the video source as fast as it
// produces them. Capture never blocks on the network:
// transport.Session.Send is non-blocking, and when the send queue is at
// its byte budget it returns WouldBlock and this (newest) frame is
// discarded. Frames already queued are not replaced, so a full queue
// drops new frames rather than the oldest one.
func (c *Client) captureVideoLoop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		w, h, pixels, err := c.opts.Video.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("video capture error", "error", err)
			continue
		}
		if pixels == nil {
			continue
		}
		payload, err := json.Marshal(imageFrameWire{Width: w, Height: h, Pixels: pixels, CaptureNS: time.Now().UnixNano()})
		if err != nil {
			continue
		}
		c.send(wire.KindImageFrame, payload)
	}
}

// captureAudioLoop mirrors captureVideoLoop for audio windows. Unlike
// video, a dropped audio window is an audible gap rather than a stale
// picture, but the same policy applies: Send never blocks, and a window
// that meets a full queue is the one discarded.
func (c *Client) captureAudioLoop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		rate, channels, samples, err := c.opts.Audio.NextWindow(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("audio capture error", "error", err)
			continue
		}
		if samples == nil {
			continue
		}
		payload, err := json.Marshal(audioFrameWire{SampleRateHz: rate, Channels: channels, Samples: samples, CaptureNS: time.Now().UnixNano()})
		if err != nil {
			continue
		}
		c.send(wire.KindAudioFrame, payload)
	}
}

func (c *Client) inputLoop(ctx context.Context, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		ctrl, err := c.opts.Input.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("input source error", "error", err)
			return
		}
		payload, err := json.Marshal(ctrl)
		if err != nil {
			continue
		}
		c.send(wire.KindControl, payload)
	}
}
