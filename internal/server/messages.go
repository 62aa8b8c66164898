package server

// Wire-level (JSON) bodies for each PacketKind's payload. Binary framing,
// CRC, and (post-handshake) AEAD sealing are handled by internal/wire and
// codec.go; these structs are what travels inside a packet's plaintext.

// HelloWire is KindHello's payload.
type HelloWire struct {
	Version      uint16 `json:"version"`
	Capabilities uint32 `json:"capabilities"`
	EphemeralPub [32]byte `json:"ephemeralPub"`
	IdentityPub  []byte `json:"identityPub"`
	NonceI       [16]byte `json:"nonceI"`
}

// ChallengeWire is KindAuthChallenge's payload.
type ChallengeWire struct {
	EphemeralPub [32]byte `json:"ephemeralPub"`
	IdentityPub  []byte   `json:"identityPub"`
	NonceR       [16]byte `json:"nonceR"`
	Signature    []byte   `json:"signature"`
}

// ResponseWire is KindAuthResponse's payload.
type ResponseWire struct {
	Signature []byte `json:"signature"`
}

// PakeMsgAWire is KindPakeMsgA's payload: the initiator's CPace message,
// sent only when the session is password-protected.
type PakeMsgAWire struct {
	MsgA []byte `json:"msgA"`
}

// PakeMsgBWire is KindPakeMsgB's payload: the responder's CPace reply.
type PakeMsgBWire struct {
	MsgB []byte `json:"msgB"`
}

// PakeConfirmWire is KindPakeConfirm's payload: a confirmation tag each
// side sends so the other can detect a password mismatch before the
// session is accepted.
type PakeConfirmWire struct {
	Tag []byte `json:"tag"`
}

// SessionAcceptWire is KindSessionAccept's payload.
type SessionAcceptWire struct {
	ClientID uint32 `json:"clientId"`
}

// SessionRejectWire is KindSessionReject's payload.
type SessionRejectWire struct {
	Reason string `json:"reason"`
}

// StreamStartWire is KindStreamStart's payload: the client's declared
// capabilities and its chosen IMAGE_FRAME codec.
type StreamStartWire struct {
	DisplayName  string `json:"displayName"`
	TerminalW    int32  `json:"terminalW"`
	TerminalH    int32  `json:"terminalH"`
	ColorCaps    int32  `json:"colorCaps"` // 0 none, 1 8-color, 2 256-color, 3 truecolor
	AudioEnabled bool   `json:"audioEnabled"`
	VideoEnabled bool   `json:"videoEnabled"`
	ImageCodec   string `json:"imageCodec"` // e.g. "raw-rgb", "zstd"
}

// ControlWire is KindControl's payload: mid-session metadata changes.
type ControlWire struct {
	TerminalW  *int32 `json:"terminalW,omitempty"`
	TerminalH  *int32 `json:"terminalH,omitempty"`
	MuteAudio  *bool  `json:"muteAudio,omitempty"`
	MuteVideo  *bool  `json:"muteVideo,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
}

// ImageFrameWire is KindImageFrame's payload. Pixels are raw packed RGB;
// the codec named in StreamStartWire.ImageCodec determines how Pixels is
// actually compressed. Each frame must decode independently — no
// inter-frame prediction, so a dropped frame never corrupts the next.
type ImageFrameWire struct {
	Width     int32  `json:"width"`
	Height    int32  `json:"height"`
	Pixels    []byte `json:"pixels"`
	CaptureNS int64  `json:"captureNs"`
}

// AudioFrameWire is KindAudioFrame's payload.
type AudioFrameWire struct {
	SampleRateHz int32     `json:"sampleRateHz"`
	Channels     int32     `json:"channels"`
	Samples      []float32 `json:"samples"`
	CaptureNS    int64     `json:"captureNs"`
}
