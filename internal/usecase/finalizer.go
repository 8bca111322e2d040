package usecase

import (
	"time"

	"github.com/rs/zerolog/log"

	"liveline/internal/domain"
	"liveline/internal/ports"
)

// transcriptFinalizer turns completed turns and failures into conversation entries.
type transcriptFinalizer struct {
	sessionID    string
	conversation ports.ConversationLog
	now          func() time.Time
}

func newTranscriptFinalizer(sessionID string, conversation ports.ConversationLog, now func() time.Time) transcriptFinalizer {
	return transcriptFinalizer{sessionID: sessionID, conversation: conversation, now: now}
}

// Finalize appends the user entry then the model entry, skipping empty ones.
func (f transcriptFinalizer) Finalize(turn *turnBuffer) {
	user, model := turn.complete()
	if user != "" {
		f.append(domain.ChatRoleUser, user, false)
	}
	if model != "" {
		f.append(domain.ChatRoleModel, model, false)
	}
}

func (f transcriptFinalizer) Error(text string) {
	f.append(domain.ChatRoleModel, text, true)
}

func (f transcriptFinalizer) append(role domain.ChatRole, content string, isError bool) {
	if f.conversation == nil {
		return
	}
	entry := domain.ChatEntry{
		SessionID: f.sessionID,
		Role:      role,
		Content:   content,
		IsError:   isError,
		CreatedAt: f.now(),
	}
	if err := f.conversation.Append(entry); err != nil {
		log.Error().Err(err).Str("session_id", f.sessionID).Msg("failed to append conversation entry")
	}
}
