package client

// Wire-level (JSON) bodies mirroring internal/server/messages.go's
// payload shapes for the messages a client itself builds or parses.
// Kept as its own small set rather than importing internal/server,
// since client and server are peer packages over the same wire
// protocol, not layered on one another.

type helloWire struct {
	Version      uint16   `json:"version"`
	Capabilities uint32   `json:"capabilities"`
	EphemeralPub [32]byte `json:"ephemeralPub"`
	IdentityPub  []byte   `json:"identityPub"`
	NonceI       [16]byte `json:"nonceI"`
}

type challengeWire struct {
	EphemeralPub [32]byte `json:"ephemeralPub"`
	IdentityPub  []byte   `json:"identityPub"`
	NonceR       [16]byte `json:"nonceR"`
	Signature    []byte   `json:"signature"`
}

type responseWire struct {
	Signature []byte `json:"signature"`
}

type pakeMsgAWire struct {
	MsgA []byte `json:"msgA"`
}

type pakeMsgBWire struct {
	MsgB []byte `json:"msgB"`
}

type pakeConfirmWire struct {
	Tag []byte `json:"tag"`
}

type sessionAcceptWire struct {
	ClientID uint32 `json:"clientId"`
}

type sessionRejectWire struct {
	Reason string `json:"reason"`
}

type streamStartWire struct {
	DisplayName  string `json:"displayName"`
	TerminalW    int32  `json:"terminalW"`
	TerminalH    int32  `json:"terminalH"`
	ColorCaps    int32  `json:"colorCaps"`
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
	ImageCodec   string `json:"imageCodec"`
}

// ControlEvent is a local terminal event (resize, mute toggle, rename)
// reported by an InputSource and sent to the host as a CONTROL message.
type ControlEvent struct {
	TerminalW   *int32  `json:"terminalW,omitempty"`
	TerminalH   *int32  `json:"terminalH,omitempty"`
	MuteAudio   *bool   `json:"muteAudio,omitempty"`
	MuteVideo   *bool   `json:"muteVideo,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

type imageFrameWire struct {
	Width     int32  `json:"width"`
	Height    int32  `json:"height"`
	Pixels    []byte `json:"pixels"`
	CaptureNS int64  `json:"captureNs"`
}

type audioFrameWire struct {
	SampleRateHz int32     `json:"sampleRateHz"`
	Channels     int32     `json:"channels"`
	Samples      []float32 `json:"samples"`
	CaptureNS    int64     `json:"captureNs"`
}
