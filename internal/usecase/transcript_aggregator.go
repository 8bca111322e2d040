package usecase

import "strings"

// turnBuffer accumulates transcription deltas until the turn completes.
type turnBuffer struct {
	user  strings.Builder
	model strings.Builder
}

func (b *turnBuffer) addInput(text string) {
	b.user.WriteString(text)
}

func (b *turnBuffer) addOutput(text string) {
	b.model.WriteString(text)
}

// complete returns both trimmed transcripts and resets the buffer.
func (b *turnBuffer) complete() (user string, model string) {
	user = strings.TrimSpace(b.user.String())
	model = strings.TrimSpace(b.model.String())
	b.user.Reset()
	b.model.Reset()
	return user, model
}
