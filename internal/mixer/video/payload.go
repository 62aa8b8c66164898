package video

import "encoding/json"

// imageFrameWire mirrors the IMAGE_FRAME packet payload's JSON shape
// (internal/server's ImageFrameWire) so the mixer can seal directly into
// wire format without importing internal/server. Width/Height here are
// the rendered grid's glyph-cell dimensions, not source pixel
// dimensions; Pixels carries the terminal-ready glyph/escape buffer.
type imageFrameWire struct {
	Width     int32  `json:"width"`
	Height    int32  `json:"height"`
	Pixels    []byte `json:"pixels"`
	CaptureNS int64  `json:"captureNs"`
}

func marshalGridFrame(w, h int, buf []byte, captureNS int64) []byte {
	b, err := json.Marshal(imageFrameWire{Width: int32(w), Height: int32(h), Pixels: buf, CaptureNS: captureNS})
	if err != nil {
		return nil
	}
	return b
}
