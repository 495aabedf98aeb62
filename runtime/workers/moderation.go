package workers

import (
	"context"
	"log/slog"

	"github.com/abadojack/whatlanggo"

	"negochat/domain"
	"negochat/moderation"
)

// ModerationWorker sits between the transport and the store. Message
// bodies are censored and language-tagged before they are persisted, so
// the stored log is already the moderated one. Other commands pass
// through untouched.
type ModerationWorker struct {
	moderator moderation.Moderator
	raw       chan domain.Command
	sanitized chan domain.Command
	log       *slog.Logger
}

func NewModerationWorker(moderator moderation.Moderator,
	raw, sanitized chan domain.Command, log *slog.Logger) *ModerationWorker {
	return &ModerationWorker{moderator: moderator, raw: raw, sanitized: sanitized, log: log}
}

func (w *ModerationWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Stopping moderation worker")
			return ctx.Err()
		case cmd, ok := <-w.raw:
			if !ok {
				return nil
			}
			if post, isPost := cmd.(domain.PostMessage); isPost {
				cmd = w.sanitize(post)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case w.sanitized <- cmd:
			}
		}
	}
}

func (w *ModerationWorker) sanitize(post domain.PostMessage) domain.PostMessage {
	if post.Body == "" {
		return post
	}

	censored, found := w.moderator.Censor(post.Body)
	if found {
		w.log.Info("Message censored",
			"conversation", post.Key.String(),
			"sender", post.SenderID)
	}
	post.Body = censored
	post.Lang = DetectLang(censored)
	return post
}

// DetectLang tags a message body with its ISO 639-1 language code, empty
// when detection is unsure. Stored alongside the message for analytics.
func DetectLang(body string) string {
	info := whatlanggo.Detect(body)
	if !info.IsReliable() {
		return ""
	}
	return info.Lang.Iso6391()
}
