package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wailsapp/wails/v2/pkg/runtime"

	"liveline/internal/bootstrap"
	"liveline/internal/config"
	"liveline/internal/domain"
	"liveline/internal/journal"
	"liveline/internal/usecase"
)

const (
	eventSession = "liveline:session"
	eventEntry   = "liveline:entry"
	eventError   = "liveline:error"
)

// Modes the frontend can show. Only voice and live keep a session running.
const (
	ModeChat  = "chat"
	ModeVoice = "voice"
	ModeLive  = "live"
)

// App is the Wails application root.
type App struct {
	ctx context.Context

	services   bootstrap.Services
	controller *usecase.LiveController
	transcript *journal.Transcript
	cfg        config.Config
	bootErr    error

	modeMu sync.Mutex
	mode   string
}

func NewApp() *App {
	return &App{
		transcript: journal.NewTranscript(),
		mode:       ModeChat,
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := bootstrap.Build(ctx, a, a)
	if err != nil {
		a.bootErr = err
		a.SessionError(domain.ErrorCodeStartup, err.Error())
		return
	}

	a.services = services
	a.cfg = services.Config
	a.controller = services.Controller
	a.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)
}

func (a *App) shutdown(ctx context.Context) {
	if a.controller == nil {
		return
	}
	stopCtx, cancel := context.WithTimeout(ctx, a.stopTimeout())
	defer cancel()
	if err := a.services.Close(stopCtx); err != nil {
		log.Warn().Err(err).Str("reason", string(domain.SessionReasonApplicationClose)).Msg("shutdown was not clean")
	}
}

// StartLive starts a live conversation, with the camera when video is set.
func (a *App) StartLive(video bool) (domain.Status, error) {
	if err := a.requireReady(); err != nil {
		return domain.Status{}, err
	}
	if err := a.controller.Start(a.ctx, domain.StartOptions{Video: video}); err != nil {
		a.SessionError(domain.ErrorCodeLive, err.Error())
		return a.controller.Status(), err
	}
	return a.controller.Status(), nil
}

// StopLive ends the current live conversation. It is safe to call when idle.
func (a *App) StopLive() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(a.ctx, a.stopTimeout())
	defer cancel()
	if err := a.controller.Stop(ctx); err != nil {
		a.SessionError(domain.ErrorCodeLive, err.Error())
		return err
	}
	return nil
}

// SwitchMode records the visible mode. Leaving voice or live mode stops the session.
func (a *App) SwitchMode(mode string) error {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case ModeChat, ModeVoice, ModeLive:
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}

	a.modeMu.Lock()
	previous := a.mode
	a.mode = mode
	a.modeMu.Unlock()

	if previous == mode || !keepsSession(previous) {
		return nil
	}
	if a.controller == nil {
		return nil
	}
	log.Info().Str("from", previous).Str("to", mode).Msg("mode switched; stopping live session")
	ctx, cancel := context.WithTimeout(a.ctx, a.stopTimeout())
	defer cancel()
	if err := a.controller.StopWithReason(ctx, domain.SessionReasonModeSwitched); err != nil {
		a.SessionError(domain.ErrorCodeLive, err.Error())
		return err
	}
	return nil
}

// GetMode returns the mode last set with SwitchMode.
func (a *App) GetMode() string {
	a.modeMu.Lock()
	defer a.modeMu.Unlock()
	return a.mode
}

// GetStatus returns the current session status.
func (a *App) GetStatus() domain.Status {
	if a.controller == nil {
		if a.bootErr != nil {
			return domain.Status{State: domain.SessionStateError, Active: false, Message: a.bootErr.Error()}
		}
		return domain.Status{State: domain.SessionStateIdle, Active: false}
	}
	return a.controller.Status()
}

// GetConversation returns the entries finalized since the app started.
func (a *App) GetConversation() []domain.ChatEntry {
	return a.transcript.Entries()
}

// GetSessionHistory reads a session's entries back from the journal.
func (a *App) GetSessionHistory(sessionID string) ([]domain.ChatEntry, error) {
	if err := a.requireReady(); err != nil {
		return nil, err
	}
	if a.services.Journal == nil {
		return nil, fmt.Errorf("conversation journal is disabled")
	}
	entries, err := a.services.Journal.Entries(a.ctx, sessionID)
	if err != nil {
		a.SessionError(domain.ErrorCodeJournal, err.Error())
		return nil, err
	}
	return entries, nil
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	return map[string]string{
		"provider":         "Gemini Live",
		"model":            a.cfg.Gemini.Model,
		"voice":            a.cfg.Gemini.Voice,
		"audioInput":       a.cfg.Audio.InputDevice,
		"audioInputFormat": a.cfg.Audio.InputFormat,
		"videoInput":       a.cfg.Video.InputDevice,
		"journal":          a.cfg.Storage.JournalPath,
		"configFile":       a.cfg.Path,
	}
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.controller == nil {
		return fmt.Errorf("application is not initialized")
	}
	return nil
}

func (a *App) stopTimeout() time.Duration {
	if a.cfg.Session.StopTimeout > 0 {
		return a.cfg.Session.StopTimeout
	}
	return 5 * time.Second
}

func keepsSession(mode string) bool {
	return mode == ModeVoice || mode == ModeLive
}

// SessionStateChanged emits session lifecycle updates to the frontend.
func (a *App) SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventSession, map[string]string{
		"state":   string(state),
		"reason":  string(reason),
		"message": sessionReasonMessage(reason),
	})
}

// Append keeps a finalized conversation entry and forwards it to the frontend.
func (a *App) Append(entry domain.ChatEntry) error {
	if err := a.transcript.Append(entry); err != nil {
		return err
	}
	if a.ctx == nil {
		return nil
	}
	runtime.EventsEmit(a.ctx, eventEntry, entry)
	return nil
}

// SessionError emits backend errors to the UI.
func (a *App) SessionError(code domain.ErrorCode, detail string) {
	if a.ctx == nil {
		return
	}
	runtime.EventsEmit(a.ctx, eventError, map[string]string{
		"code":    string(code),
		"message": errorMessage(code, detail),
		"detail":  detail,
	})
}

func sessionReasonMessage(reason domain.SessionStateReason) string {
	switch reason {
	case domain.SessionReasonReady:
		return "Ready"
	case domain.SessionReasonStarting:
		return "Connecting..."
	case domain.SessionReasonActive:
		return "Live"
	case domain.SessionReasonRestarted:
		return "Session restarted"
	case domain.SessionReasonStoppedByUser:
		return "Session ended"
	case domain.SessionReasonChannelClosed:
		return "Connection closed"
	case domain.SessionReasonChannelError:
		return "Connection error"
	case domain.SessionReasonCaptureDenied:
		return "Microphone unavailable"
	case domain.SessionReasonStartAborted:
		return "Start cancelled"
	case domain.SessionReasonModeSwitched:
		return "Mode switched"
	case domain.SessionReasonApplicationClose:
		return "Application closing"
	default:
		return ""
	}
}

func errorMessage(code domain.ErrorCode, detail string) string {
	switch code {
	case domain.ErrorCodeStartup:
		return "Startup failed"
	case domain.ErrorCodeLive:
		return "Live session error"
	case domain.ErrorCodeJournal:
		return "Conversation journal error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}
