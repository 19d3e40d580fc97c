package ws

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
)

// Inbound message types. Unknown fields in device frames are ignored;
// unknown types decode to Unrecognized and are answered with a structured
// error.
const (
	TypeHello            = "hello"
	TypeClientOn         = "client_on"
	TypeRecordingStarted = "recording_started"
	TypeAudioChunkMeta   = "audio_chunk_meta"
	TypeRecordingStopped = "recording_stopped"
	TypeImageCaptured    = "image_captured"
	TypeReadyForPlayback = "ready_for_playback"
	TypePlaybackComplete = "playback_complete"
	TypePing             = "ping"
)

// ErrMalformed marks a frame that is not valid JSON or lacks a type tag.
var ErrMalformed = errors.New("malformed message")

// Inbound is the tagged union of decoded device messages. Decoded once at
// the boundary and matched exhaustively by the controller.
type Inbound interface {
	inboundType() string
}

// Hello carries the device capability descriptor.
type Hello struct {
	Capabilities session.Capabilities
}

// ClientOn signals the device is ready; the session goes idle.
type ClientOn struct{}

// RecordingStarted opens a capture cycle.
type RecordingStarted struct{}

// AudioChunkMeta declares the binary frame that immediately follows.
type AudioChunkMeta struct {
	Seq      int
	LenBytes int
}

// RecordingStopped closes the capture cycle and starts processing.
type RecordingStopped struct{}

// ImageCaptured is informational; image bytes arrive over HTTP.
type ImageCaptured struct{}

// ReadyForPlayback asks for the synthesized reply to be streamed.
type ReadyForPlayback struct{}

// PlaybackComplete returns the session to idle.
type PlaybackComplete struct{}

// Ping requests a pong.
type Ping struct{}

// Unrecognized holds a type tag the server does not understand.
type Unrecognized struct {
	Type string
}

func (Hello) inboundType() string            { return TypeHello }
func (ClientOn) inboundType() string         { return TypeClientOn }
func (RecordingStarted) inboundType() string { return TypeRecordingStarted }
func (AudioChunkMeta) inboundType() string   { return TypeAudioChunkMeta }
func (RecordingStopped) inboundType() string { return TypeRecordingStopped }
func (ImageCaptured) inboundType() string    { return TypeImageCaptured }
func (ReadyForPlayback) inboundType() string { return TypeReadyForPlayback }
func (PlaybackComplete) inboundType() string { return TypePlaybackComplete }
func (Ping) inboundType() string             { return TypePing }
func (u Unrecognized) inboundType() string   { return u.Type }

type rawInbound struct {
	Type         string                `json:"type"`
	Capabilities *session.Capabilities `json:"capabilities"`
	Seq          *int                  `json:"seq"`
	LenBytes     *int                  `json:"len_bytes"`
}

// Decode parses one device text frame into its payload variant.
func Decode(data []byte) (Inbound, error) {
	var raw rawInbound
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("%w: missing 'type' field", ErrMalformed)
	}

	switch raw.Type {
	case TypeHello:
		var caps session.Capabilities
		if raw.Capabilities != nil {
			caps = *raw.Capabilities
		}
		return Hello{Capabilities: caps}, nil
	case TypeClientOn:
		return ClientOn{}, nil
	case TypeRecordingStarted:
		return RecordingStarted{}, nil
	case TypeAudioChunkMeta:
		if raw.Seq == nil || raw.LenBytes == nil {
			return nil, fmt.Errorf("%w: missing seq or len_bytes in audio_chunk_meta", ErrMalformed)
		}
		return AudioChunkMeta{Seq: *raw.Seq, LenBytes: *raw.LenBytes}, nil
	case TypeRecordingStopped:
		return RecordingStopped{}, nil
	case TypeImageCaptured:
		return ImageCaptured{}, nil
	case TypeReadyForPlayback:
		return ReadyForPlayback{}, nil
	case TypePlaybackComplete:
		return PlaybackComplete{}, nil
	case TypePing:
		return Ping{}, nil
	default:
		return Unrecognized{Type: raw.Type}, nil
	}
}

// Outbound messages. Every server frame carries a type discriminator.

// Ready confirms admission.
type Ready struct {
	Type string `json:"type"`
}

// Error reports a protocol or processing failure; the connection stays
// open.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Ack acknowledges every Nth audio chunk.
type Ack struct {
	Type string `json:"type"`
	Ref  string `json:"ref"`
	Seq  int    `json:"seq"`
}

// Partial carries an interim transcript.
type Partial struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	Stable bool   `json:"stable"`
}

// LLM carries the assistant reply text.
type LLM struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TTSReady is the stream descriptor sent before any audio bytes.
type TTSReady struct {
	Type       string `json:"type"`
	DurationMs int64  `json:"duration_ms"`
	SampleRate int    `json:"sampleRate"`
	Format     string `json:"format"`
	FileSize   int64  `json:"fileSize"`
}

// TTSChunkMeta declares the binary frame that immediately follows.
type TTSChunkMeta struct {
	Type     string `json:"type"`
	Seq      int    `json:"seq"`
	LenBytes int    `json:"len_bytes"`
}

// TTSDone is the stream completion marker.
type TTSDone struct {
	Type string `json:"type"`
}

// OfferDownload is the streaming fallback: a time-limited URL.
type OfferDownload struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// RequestRerecord directs the device to capture again.
type RequestRerecord struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// RequestUserIntervention marks the session stalled pending a human.
type RequestUserIntervention struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ImageReceived confirms a side-channel image upload.
type ImageReceived struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

// Pong answers a ping.
type Pong struct {
	Type string `json:"type"`
}

func (m Ready) outboundType() string                   { return m.Type }
func (m Error) outboundType() string                   { return m.Type }
func (m Ack) outboundType() string                     { return m.Type }
func (m Partial) outboundType() string                 { return m.Type }
func (m LLM) outboundType() string                     { return m.Type }
func (m TTSReady) outboundType() string                { return m.Type }
func (m TTSChunkMeta) outboundType() string            { return m.Type }
func (m TTSDone) outboundType() string                 { return m.Type }
func (m OfferDownload) outboundType() string           { return m.Type }
func (m RequestRerecord) outboundType() string         { return m.Type }
func (m RequestUserIntervention) outboundType() string { return m.Type }
func (m ImageReceived) outboundType() string           { return m.Type }
func (m Pong) outboundType() string                    { return m.Type }

func NewReady() Ready           { return Ready{Type: "ready"} }
func NewError(msg string) Error { return Error{Type: "error", Message: msg} }
func NewPong() Pong             { return Pong{Type: "pong"} }
func NewTTSDone() TTSDone       { return TTSDone{Type: "tts_done"} }
func NewAck(ref string, seq int) Ack {
	return Ack{Type: "ack", Ref: ref, Seq: seq}
}
func NewErrorCode(code, msg string) Error {
	return Error{Type: "error", Code: code, Message: msg}
}
func NewPartial(text string, stable bool) Partial {
	return Partial{Type: "partial", Text: text, Stable: stable}
}
func NewLLM(text string) LLM { return LLM{Type: "llm", Text: text} }
func NewTTSChunkMeta(seq, lenBytes int) TTSChunkMeta {
	return TTSChunkMeta{Type: "tts_chunk_meta", Seq: seq, LenBytes: lenBytes}
}
func NewOfferDownload(url string) OfferDownload {
	return OfferDownload{Type: "offer_download", URL: url}
}
func NewRequestRerecord(reason string) RequestRerecord {
	return RequestRerecord{Type: "request_rerecord", Reason: reason}
}
func NewRequestUserIntervention(msg string) RequestUserIntervention {
	return RequestUserIntervention{Type: "request_user_intervention", Message: msg}
}
func NewImageReceived(filename string) ImageReceived {
	return ImageReceived{Type: "image_received", Filename: filename}
}
