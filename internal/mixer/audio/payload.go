package audio

import "encoding/json"

// audioFrameWire mirrors the AUDIO_FRAME packet payload's JSON shape
// (internal/server's AudioFrameWire) so the mixer can seal directly into
// wire format without importing internal/server.
type audioFrameWire struct {
	SampleRateHz int32     `json:"sampleRateHz"`
	Channels     int32     `json:"channels"`
	Samples      []float32 `json:"samples"`
	CaptureNS    int64     `json:"captureNs"`
}

type mixerAudioPayload struct {
	SampleRateHz int
	Channels     int
	Samples      []float32
}

func (p mixerAudioPayload) marshal() []byte {
	b, err := json.Marshal(audioFrameWire{
		SampleRateHz: int32(p.SampleRateHz),
		Channels:     int32(p.Channels),
		Samples:      p.Samples,
	})
	if err != nil {
		return nil
	}
	return b
}
