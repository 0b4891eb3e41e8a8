// Command voiceclient is a developer client: it authenticates as a device,
// opens a session, streams a WAV file as opus frames and prints what the
// server sends back. Synthesized replies are saved as WAV files.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/voicectl/server/domain/entities"
	"github.com/satriahrh/voicectl/server/internal/codec"
)

// Trailing silence long enough for the server to close the segment.
const trailingSilence = 1800 * time.Millisecond

type options struct {
	server    string
	serial    string
	secret    string
	wav       string
	text      string
	outDir    string
	listen    string
	waitAfter time.Duration
}

type authResponse struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

func main() {
	var opts options
	flag.StringVar(&opts.server, "server", "localhost:8080", "server host:port")
	flag.StringVar(&opts.serial, "serial", "DEV-0001", "device serial number")
	flag.StringVar(&opts.secret, "secret", "", "device secret key")
	flag.StringVar(&opts.wav, "wav", "", "16-bit PCM WAV file to stream")
	flag.StringVar(&opts.text, "text", "", "send a listen detect with this text instead of audio")
	flag.StringVar(&opts.outDir, "out", "audio_responses", "directory for received replies")
	flag.StringVar(&opts.listen, "mode", "auto", "listen mode: auto, manual or realtime")
	flag.DurationVar(&opts.waitAfter, "wait", 15*time.Second, "how long to wait for replies")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	if err := run(opts, logger); err != nil {
		logger.Fatal("voiceclient failed", zap.Error(err))
	}
}

func run(opts options, logger *zap.Logger) error {
	auth, err := authenticate(opts)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	logger.Info("Authenticated", zap.String("deviceID", auth.DeviceID))

	u := url.URL{Scheme: "ws", Host: opts.server, Path: "/ws"}
	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+auth.Token)
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), headers)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	params := entities.AudioParams{Format: "opus", SampleRate: 16000, Channels: 1, FrameDuration: 60}
	recv, err := newReceiver(params, opts.outDir, logger)
	if err != nil {
		return err
	}
	done := make(chan struct{})
	go recv.loop(conn, done)

	if err := sendJSON(conn, map[string]interface{}{
		"type":               "hello",
		"device_id":          auth.DeviceID,
		"device_name":        "voiceclient",
		"client_listen_mode": opts.listen,
		"audio_params":       params,
		"features":           map[string]bool{"mcp": false},
	}); err != nil {
		return err
	}

	switch {
	case opts.text != "":
		err = sendJSON(conn, map[string]interface{}{
			"type":  "listen",
			"mode":  opts.listen,
			"state": "detect",
			"text":  opts.text,
		})
	case opts.wav != "":
		err = streamWAV(conn, opts, params, logger)
	default:
		err = fmt.Errorf("either -wav or -text is required")
	}
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	select {
	case <-done:
	case <-interrupt:
		logger.Info("Interrupted")
	case <-time.After(opts.waitAfter):
		logger.Info("Done waiting for replies")
	}
	return conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func authenticate(opts options) (*authResponse, error) {
	body, err := json.Marshal(map[string]string{
		"serial_number": opts.serial,
		"secret_key":    opts.secret,
	})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post("http://"+opts.server+"/api/v1/device/auth", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, data)
	}
	var out authResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// streamWAV sends the file as real-time paced opus frames followed by
// silence. Manual mode brackets the audio with listen start and stop.
func streamWAV(conn *websocket.Conn, opts options, params entities.AudioParams, logger *zap.Logger) error {
	data, err := os.ReadFile(opts.wav)
	if err != nil {
		return err
	}
	pcm, rate, channels, err := codec.DecodeWAV(data)
	if err != nil {
		return err
	}
	if rate != params.SampleRate || channels != params.Channels {
		return fmt.Errorf("wav must be %dHz mono, got %dHz with %d channels", params.SampleRate, rate, channels)
	}

	enc, err := codec.NewEncoder(codec.ConfigFor(params), logger)
	if err != nil {
		return err
	}
	frames, err := enc.Encode(pcm, false)
	if err != nil {
		return err
	}
	// The partial last frame goes out with the trailing silence.
	logger.Debug("Encoded wav", zap.Int("frames", len(frames)), zap.Int("pending", enc.Buffered()))
	silence := make([]byte, int(trailingSilence/time.Millisecond)*params.SampleRate/1000*2)
	tail, err := enc.Encode(silence, true)
	if err != nil {
		return err
	}
	frames = append(frames, tail...)

	manual := opts.listen == string(entities.ListenModeManual)
	if manual {
		if err := sendJSON(conn, map[string]string{"type": "listen", "mode": opts.listen, "state": "start"}); err != nil {
			return err
		}
	}

	logger.Info("Streaming audio", zap.String("file", opts.wav), zap.Int("frames", len(frames)))
	interval := time.Duration(params.FrameDuration) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for _, frame := range frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("send frame: %w", err)
		}
		<-ticker.C
	}

	if manual {
		return sendJSON(conn, map[string]string{"type": "listen", "mode": opts.listen, "state": "stop"})
	}
	return nil
}

func sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// receiver prints control messages and collects reply audio.
type receiver struct {
	params  entities.AudioParams
	decoder *codec.Decoder
	outDir  string
	frames  [][]byte
	logger  *zap.Logger
}

func newReceiver(params entities.AudioParams, outDir string, logger *zap.Logger) (*receiver, error) {
	dec, err := codec.NewDecoder(codec.ConfigFor(params), logger)
	if err != nil {
		return nil, err
	}
	return &receiver{params: params, decoder: dec, outDir: outDir, logger: logger}, nil
}

func (r *receiver) loop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.logger.Info("Connection ended", zap.Error(err))
			}
			return
		}
		if messageType == websocket.BinaryMessage {
			r.frames = append(r.frames, message)
			continue
		}

		var msg struct {
			Type  string `json:"type"`
			State string `json:"state"`
		}
		if err := json.Unmarshal(message, &msg); err != nil {
			r.logger.Warn("Unreadable message", zap.ByteString("raw", message))
			continue
		}
		r.logger.Info("Received", zap.String("type", msg.Type), zap.ByteString("message", message))
		if msg.Type == "tts" && msg.State == "stop" {
			r.save()
		}
	}
}

func (r *receiver) save() {
	if len(r.frames) == 0 {
		return
	}
	frames := r.frames
	r.frames = nil

	pcm := r.decoder.DecodeAll(frames)
	wav, err := codec.EncodeWAV(pcm, r.params.SampleRate, r.params.Channels)
	if err != nil {
		r.logger.Error("Cannot encode reply", zap.Error(err))
		return
	}
	if err := os.MkdirAll(r.outDir, 0o755); err != nil {
		r.logger.Error("Cannot create output directory", zap.Error(err))
		return
	}
	path := filepath.Join(r.outDir, fmt.Sprintf("%d.wav", time.Now().UnixNano()))
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		r.logger.Error("Cannot save reply", zap.Error(err))
		return
	}
	r.logger.Info("Saved reply", zap.String("file", path), zap.Int("frames", len(frames)))
}
