package ws

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VighneshNilajakar/HotPin-WebServer/internal/ai"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/audio"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/domain/session"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/config"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/logging"
	"github.com/VighneshNilajakar/HotPin-WebServer/internal/infrastructure/monitoring"
)

type stubRecognizer struct {
	text string
	err  error
	fed  int
}

func (r *stubRecognizer) Start(string)        {}
func (r *stubRecognizer) Feed(string, []byte) { r.fed++ }
func (r *stubRecognizer) Partial() bool       { return false }
func (r *stubRecognizer) Finalize(context.Context, string) (string, error) {
	return r.text, r.err
}

type stubEngine struct{}

func (stubEngine) Render(ctx context.Context, text string) ([]byte, error) {
	return audio.EncodeWAV(make([]byte, 3200), audio.DefaultFormat())
}

type ctrlFixture struct {
	registry *session.Manager
	ctrl     *Controller
	rec      *stubRecognizer
}

func newCtrlFixture(t *testing.T, rec *stubRecognizer, chatURL string) *ctrlFixture {
	t.Helper()
	logger := logging.NewNop()
	metrics := monitoring.NewMetrics()
	tempDir := t.TempDir()

	registry := session.NewManager(session.ManagerConfig{
		GracePeriod:         30 * time.Second,
		SweepInterval:       time.Minute,
		MaxHistoryTurns:     10,
		MaxRerecordAttempts: 2,
		DiskQuotaBytes:      100 * 1024 * 1024,
	}, logger, metrics)

	ingestor := audio.NewIngestor(audio.IngestorConfig{
		TempDir:      tempDir,
		SeqTolerance: 5,
		Format:       audio.DefaultFormat(),
	}, logger, metrics)

	groq := config.GroqConfig{
		APIKey:        "test-key",
		BaseURL:       chatURL,
		LLMModel:      "test-model",
		RetryAttempts: 1,
		TimeoutSec:    5,
	}
	chat := ai.NewChatClient(groq, logger, metrics)

	synth := ai.NewSynthesizer(stubEngine{}, tempDir, audio.DefaultFormat(), 2, logger)
	t.Cleanup(synth.Close)

	streamer := NewStreamer(StreamerConfig{
		ChunkSizeBytes: 1000,
		PacingDelay:    0,
		DownloadExpiry: time.Minute,
		Format:         audio.DefaultFormat(),
	}, logger)

	ctrl := NewController(ControllerConfig{
		AckInterval:      4,
		MinTranscriptLen: 3,
		HistoryWindow:    5,
	}, registry, ingestor, rec, chat, synth, streamer, logger, metrics)

	return &ctrlFixture{registry: registry, ctrl: ctrl, rec: rec}
}

func staticChunks(size int) binaryReader {
	return func() ([]byte, error) {
		return make([]byte, size), nil
	}
}

func TestController_PingPong(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")

	client := wsPair(t, func(conn *Conn) {
		f.ctrl.Handle(context.Background(), s, conn, Ping{}, nil)
	})

	msg := readJSON(t, client)
	assert.Equal(t, "pong", msg["type"])
}

func TestController_ClientOnGoesIdle(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateConnected)

	f.ctrl.Handle(context.Background(), s, newConn(nil), ClientOn{}, nil)
	assert.Equal(t, session.StateIdle, s.State())
}

func TestController_HelloStoresCapabilities(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")

	f.ctrl.Handle(context.Background(), s, newConn(nil),
		Hello{Capabilities: session.Capabilities{PSRAM: true, MaxChunkBytes: 16000}}, nil)

	caps := s.Capabilities()
	require.NotNil(t, caps)
	assert.True(t, caps.PSRAM)
}

func TestController_UnrecognizedType(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")

	client := wsPair(t, func(conn *Conn) {
		f.ctrl.Handle(context.Background(), s, conn, Unrecognized{Type: "warp_drive"}, nil)
	})

	msg := readJSON(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "unknown_type", msg["code"])
}

func TestController_ChunkOutsideRecording(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)

	drained := false
	done := make(chan struct{})
	client := wsPair(t, func(conn *Conn) {
		f.ctrl.Handle(context.Background(), s, conn,
			AudioChunkMeta{Seq: 0, LenBytes: 1000}, func() ([]byte, error) {
				drained = true
				return make([]byte, 1000), nil
			})
		close(done)
	})

	msg := readJSON(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "bad_state", msg["code"])

	<-done
	assert.True(t, drained, "the paired binary frame must be consumed")
}

func TestController_AckEveryFourth(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)

	client := wsPair(t, func(conn *Conn) {
		ctx := context.Background()
		f.ctrl.Handle(ctx, s, conn, RecordingStarted{}, nil)
		for i := 0; i < 8; i++ {
			f.ctrl.Handle(ctx, s, conn,
				AudioChunkMeta{Seq: i, LenBytes: 1000}, staticChunks(1000))
		}
	})

	first := readJSON(t, client)
	assert.Equal(t, "ack", first["type"])
	assert.Equal(t, "chunk", first["ref"])
	assert.Equal(t, float64(3), first["seq"])

	second := readJSON(t, client)
	assert.Equal(t, "ack", second["type"])
	assert.Equal(t, float64(7), second["seq"])
}

func TestController_LengthMismatchRejected(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)

	client := wsPair(t, func(conn *Conn) {
		ctx := context.Background()
		f.ctrl.Handle(ctx, s, conn, RecordingStarted{}, nil)
		f.ctrl.Handle(ctx, s, conn,
			AudioChunkMeta{Seq: 0, LenBytes: 2000}, staticChunks(1000))
	})

	msg := readJSON(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "length_mismatch", msg["code"])
	assert.Equal(t, 0, s.Audio().ChunksReceived)
}

func TestController_EmptyTranscriptRequestsRerecord(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{text: ""}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)

	done := make(chan struct{})
	client := wsPair(t, func(conn *Conn) {
		ctx := context.Background()
		f.ctrl.Handle(ctx, s, conn, RecordingStarted{}, nil)
		f.ctrl.Handle(ctx, s, conn,
			AudioChunkMeta{Seq: 0, LenBytes: 1000}, staticChunks(1000))
		f.registry.UpdateState(s, session.StateProcessing)
		f.ctrl.processTurn(ctx, s, conn)
		close(done)
	})

	msg := readJSON(t, client)
	assert.Equal(t, "request_rerecord", msg["type"])
	assert.NotEmpty(t, msg["reason"])

	<-done
	assert.Equal(t, session.StateIdle, s.State())
	assert.Equal(t, 1, s.RerecordAttempts())
	assert.Empty(t, s.Audio().Path, "capture artifact cleaned up")
}

func TestController_StallsAfterMaxAttempts(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{text: ""}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)
	s.IncrementRerecord()
	s.IncrementRerecord()

	done := make(chan struct{})
	client := wsPair(t, func(conn *Conn) {
		ctx := context.Background()
		f.ctrl.Handle(ctx, s, conn, RecordingStarted{}, nil)
		f.ctrl.Handle(ctx, s, conn,
			AudioChunkMeta{Seq: 0, LenBytes: 1000}, staticChunks(1000))
		f.registry.UpdateState(s, session.StateProcessing)
		f.ctrl.processTurn(ctx, s, conn)
		close(done)
	})

	msg := readJSON(t, client)
	assert.Equal(t, "request_user_intervention", msg["type"])
	assert.NotEmpty(t, msg["message"])

	<-done
	assert.Equal(t, session.StateStalled, s.State())
}

func TestController_FullTurn(t *testing.T) {
	chatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"Hi from the model"}}]}`))
	}))
	t.Cleanup(chatSrv.Close)

	f := newCtrlFixture(t, &stubRecognizer{text: "hello there"}, chatSrv.URL)
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)
	s.IncrementRerecord() // must reset on a successful turn

	done := make(chan struct{})
	client := wsPair(t, func(conn *Conn) {
		ctx := context.Background()
		f.ctrl.Handle(ctx, s, conn, RecordingStarted{}, nil)
		f.ctrl.Handle(ctx, s, conn,
			AudioChunkMeta{Seq: 0, LenBytes: 1000}, staticChunks(1000))
		f.registry.UpdateState(s, session.StateProcessing)
		f.ctrl.processTurn(ctx, s, conn)
		close(done)
	})

	partial := readJSON(t, client)
	assert.Equal(t, "partial", partial["type"])
	assert.Equal(t, "hello there", partial["text"])
	assert.Equal(t, true, partial["stable"])

	llm := readJSON(t, client)
	assert.Equal(t, "llm", llm["type"])
	assert.Equal(t, "Hi from the model", llm["text"])

	ready := readJSON(t, client)
	assert.Equal(t, "tts_ready", ready["type"])
	assert.Equal(t, "wav", ready["format"])
	assert.Greater(t, ready["fileSize"], float64(0))

	<-done
	assert.Equal(t, 0, s.RerecordAttempts())
	assert.Equal(t, 2, s.HistoryLen())
	ttsPath, ttsReady := s.TTS()
	assert.True(t, ttsReady)
	assert.FileExists(t, ttsPath)
	assert.Empty(t, s.Audio().Path, "capture artifact cleaned up")
}

func TestController_ChatFailureFallsBack(t *testing.T) {
	chatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(chatSrv.Close)

	f := newCtrlFixture(t, &stubRecognizer{text: "hello there"}, chatSrv.URL)
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)

	done := make(chan struct{})
	client := wsPair(t, func(conn *Conn) {
		ctx := context.Background()
		f.ctrl.Handle(ctx, s, conn, RecordingStarted{}, nil)
		f.ctrl.Handle(ctx, s, conn,
			AudioChunkMeta{Seq: 0, LenBytes: 1000}, staticChunks(1000))
		f.registry.UpdateState(s, session.StateProcessing)
		f.ctrl.processTurn(ctx, s, conn)
		close(done)
	})

	readJSON(t, client) // partial
	llm := readJSON(t, client)
	assert.Equal(t, "llm", llm["type"])
	assert.Equal(t, ai.FallbackReply, llm["text"])

	<-done
}

func TestController_PlaybackCompleteReleasesArtifact(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StatePlaying)

	ttsPath := t.TempDir() + "/tts.wav"
	require.NoError(t, os.WriteFile(ttsPath, []byte("wav"), 0o644))
	s.SetTTS(ttsPath)

	f.ctrl.Handle(context.Background(), s, newConn(nil), PlaybackComplete{}, nil)

	assert.Equal(t, session.StateIdle, s.State())
	_, ready := s.TTS()
	assert.False(t, ready)
	_, err := os.Stat(ttsPath)
	assert.True(t, os.IsNotExist(err))
}

func TestController_RepeatedReadyForPlaybackRejected(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)

	ttsPath := t.TempDir() + "/tts.wav"
	require.NoError(t, os.WriteFile(ttsPath, make([]byte, 3500), 0o644))
	s.SetTTS(ttsPath)

	client := wsPair(t, func(conn *Conn) {
		ctx := context.Background()
		f.ctrl.Handle(ctx, s, conn, ReadyForPlayback{}, nil)
		// A device retry while the stream is in flight must not start a
		// second stream over the same connection.
		f.ctrl.Handle(ctx, s, conn, ReadyForPlayback{}, nil)
	})

	var seqs []float64
	var dones, rejects int
	for dones == 0 || rejects == 0 {
		mt, data, err := client.ReadMessage()
		require.NoError(t, err)
		if mt == websocket.BinaryMessage {
			continue
		}
		var decoded map[string]interface{}
		require.NoError(t, sonic.Unmarshal(data, &decoded))
		switch decoded["type"] {
		case "tts_chunk_meta":
			seqs = append(seqs, decoded["seq"].(float64))
		case "tts_done":
			dones++
		case "error":
			assert.Equal(t, "bad_state", decoded["code"])
			rejects++
		}
	}

	assert.Equal(t, 1, dones, "exactly one completion marker")
	assert.Equal(t, 1, rejects)
	require.Len(t, seqs, 4)
	for i, seq := range seqs {
		assert.Equal(t, float64(i), seq, "chunk sequence stays monotonic")
	}
}

func TestController_PromptHistoryIncludesCurrentTurn(t *testing.T) {
	bodyCh := make(chan []byte, 1)
	chatSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodyCh <- body
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	t.Cleanup(chatSrv.Close)

	f := newCtrlFixture(t, &stubRecognizer{text: "what bird is that"}, chatSrv.URL)
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)

	done := make(chan struct{})
	wsPair(t, func(conn *Conn) {
		ctx := context.Background()
		f.ctrl.Handle(ctx, s, conn, RecordingStarted{}, nil)
		f.ctrl.Handle(ctx, s, conn,
			AudioChunkMeta{Seq: 0, LenBytes: 1000}, staticChunks(1000))
		f.registry.UpdateState(s, session.StateProcessing)
		f.ctrl.processTurn(ctx, s, conn)
		close(done)
	})
	<-done

	var req struct {
		Messages []struct {
			Role    string      `json:"role"`
			Content interface{} `json:"content"`
		} `json:"messages"`
	}
	require.NoError(t, sonic.Unmarshal(<-bodyCh, &req))

	// The transcript is appended to the history before the window is
	// taken, so it rides along both as the newest history turn and as
	// the current user message.
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Equal(t, "what bird is that", req.Messages[1].Content)
	assert.Equal(t, "user", req.Messages[2].Role)
}

func TestController_ReadyForPlaybackWithoutTTS(t *testing.T) {
	f := newCtrlFixture(t, &stubRecognizer{}, "http://127.0.0.1:1")
	s, _ := f.registry.Create("sess_t")
	f.registry.UpdateState(s, session.StateIdle)

	client := wsPair(t, func(conn *Conn) {
		f.ctrl.Handle(context.Background(), s, conn, ReadyForPlayback{}, nil)
	})

	msg := readJSON(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "bad_state", msg["code"])
}
