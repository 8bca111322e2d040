package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"liveline/internal/domain"
	"liveline/internal/ports"
)

const (
	defaultBaseURL = "wss://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultVoice   = "Zephyr"

	livePath = "/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
)

// Config controls Gemini Live websocket settings.
type Config struct {
	APIKey            string
	APIBaseURL        string
	Model             string
	Voice             string
	SystemInstruction string
}

// Provider implements ports.ChannelFactory for the Gemini Live API.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewProvider(cfg Config) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	return &Provider{cfg: cfg, dialer: websocket.DefaultDialer}
}

// Open dials the live endpoint, sends the setup message and waits for the
// server to acknowledge it before returning.
func (p *Provider) Open(ctx context.Context, callbacks ports.ChannelCallbacks) (ports.Channel, error) {
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not configured")
	}

	wsURL, err := buildLiveURL(p.cfg)
	if err != nil {
		return nil, err
	}

	conn, _, err := p.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Gemini Live websocket: %w", err)
	}

	if err := handshake(ctx, conn, p.cfg); err != nil {
		_ = conn.Close()
		return nil, err
	}

	ch := &liveChannel{
		conn:      conn,
		callbacks: callbacks,
		out:       make(chan []byte, 64),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}

	ch.wg.Add(2)
	go ch.readLoop()
	go ch.writeLoop()
	go func() {
		ch.wg.Wait()
		close(ch.done)
		_ = conn.Close()
	}()

	go func() {
		select {
		case <-ctx.Done():
			_ = ch.Close()
		case <-ch.done:
		}
	}()

	return ch, nil
}

func handshake(ctx context.Context, conn *websocket.Conn, cfg Config) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	if err := conn.WriteJSON(buildSetup(cfg)); err != nil {
		return fmt.Errorf("failed to send live setup: %w", err)
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return fmt.Errorf("live setup was rejected: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

type liveChannel struct {
	conn      *websocket.Conn
	callbacks ports.ChannelCallbacks

	out     chan []byte
	closing chan struct{}
	done    chan struct{}

	wg sync.WaitGroup

	// local is set once Close starts; callbacks are suppressed from then on.
	local     atomic.Bool
	closeOnce sync.Once
}

func (c *liveChannel) Send(chunk domain.MediaChunk) error {
	if chunk.Data == "" {
		return nil
	}
	payload, err := json.Marshal(realtimeInputMessage{
		RealtimeInput: realtimeInput{MediaChunks: []blob{{MimeType: chunk.MimeType, Data: chunk.Data}}},
	})
	if err != nil {
		return fmt.Errorf("failed to encode realtime input: %w", err)
	}

	select {
	case <-c.closing:
		return errors.New("channel is already closed")
	default:
	}

	select {
	case c.out <- payload:
		return nil
	case <-c.closing:
		return errors.New("channel is already closed")
	case <-c.done:
		return errors.New("channel closed")
	}
}

// Close sends a normal closure frame and waits for both loops to exit.
// No callback fires after Close has been called.
func (c *liveChannel) Close() error {
	c.closeOnce.Do(func() {
		c.local.Store(true)
		close(c.closing)
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *liveChannel) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case payload := <-c.out:
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !c.local.Load() {
					log.Warn().Err(err).Msg("failed to send realtime input")
				}
				return
			}
		case <-c.closing:
			return
		}
	}
}

func (c *liveChannel) readLoop() {
	defer c.wg.Done()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			log.Debug().Err(err).Msg("ignoring undecodable live message")
			continue
		}
		if msg.GoAway != nil {
			log.Warn().Str("time_left", msg.GoAway.TimeLeft).Msg("live server is going away")
		}
		if msg.ServerContent == nil {
			continue
		}

		live := toLiveMessage(msg.ServerContent)
		if c.local.Load() {
			return
		}
		if c.callbacks.OnMessage != nil {
			c.callbacks.OnMessage(live)
		}
	}
}

// finish reports how the connection ended: a normal closure goes to
// OnClose, anything else to OnError. Exactly one of them fires.
func (c *liveChannel) finish(err error) {
	if c.local.Load() {
		return
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && isNormalClose(closeErr.Code) {
		if c.callbacks.OnClose != nil {
			c.callbacks.OnClose(closeReason(closeErr))
		}
		return
	}
	if c.callbacks.OnError != nil {
		c.callbacks.OnError(fmt.Errorf("failed to read live message: %w", err))
	}
}

func isNormalClose(code int) bool {
	switch code {
	case websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived:
		return true
	default:
		return false
	}
}

func closeReason(err *websocket.CloseError) string {
	if text := strings.TrimSpace(err.Text); text != "" {
		return text
	}
	return fmt.Sprintf("closed with code %d", err.Code)
}

func toLiveMessage(content *serverContent) domain.LiveMessage {
	msg := domain.LiveMessage{
		TurnComplete: content.TurnComplete,
		Interrupted:  content.Interrupted,
	}
	if content.InputTranscription != nil {
		msg.InputTranscript = content.InputTranscription.Text
	}
	if content.OutputTranscription != nil {
		msg.OutputTranscript = content.OutputTranscription.Text
	}
	if content.ModelTurn != nil {
		for _, part := range content.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			msg.Audio = append(msg.Audio, domain.MediaChunk{
				Data:     part.InlineData.Data,
				MimeType: part.InlineData.MimeType,
			})
		}
	}
	return msg
}

func buildLiveURL(cfg Config) (string, error) {
	base := strings.TrimSpace(cfg.APIBaseURL)
	if base == "" {
		base = defaultBaseURL
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	liveURL, err := url.Parse(base + livePath)
	if err != nil {
		return "", fmt.Errorf("invalid Gemini API base URL: %w", err)
	}
	if liveURL.Scheme != "ws" && liveURL.Scheme != "wss" {
		return "", fmt.Errorf("invalid Gemini API base URL scheme %q", liveURL.Scheme)
	}

	query := liveURL.Query()
	query.Set("key", cfg.APIKey)
	liveURL.RawQuery = query.Encode()
	return liveURL.String(), nil
}

func buildSetup(cfg Config) setupMessage {
	model := cfg.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	setup := setupMessage{}
	setup.Setup.Model = model
	setup.Setup.GenerationConfig.ResponseModalities = []string{"AUDIO"}
	setup.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName = cfg.Voice
	setup.Setup.InputAudioTranscription = &struct{}{}
	setup.Setup.OutputAudioTranscription = &struct{}{}
	if text := strings.TrimSpace(cfg.SystemInstruction); text != "" {
		setup.Setup.SystemInstruction = &content{Parts: []part{{Text: text}}}
	}
	return setup
}
