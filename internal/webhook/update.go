package webhook

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/corpai/tggateway/internal/forwarder"
)

// inbound is an update reduced to what the state machine needs.
type inbound struct {
	contactID   int64
	text        string
	messageID   string
	participant string
	from        *tgbotapi.User
	message     *tgbotapi.Message
	callbackID  string
}

// extract normalizes a message, an edited message or a callback query.
func extract(update tgbotapi.Update) (inbound, error) {
	msg := update.Message
	if msg == nil {
		msg = update.EditedMessage
	}
	if msg != nil && msg.From != nil {
		text := msg.Text
		if strings.TrimSpace(text) == "" {
			text = msg.Caption
		}
		return inbound{
			contactID:   msg.From.ID,
			text:        strings.TrimSpace(text),
			messageID:   strconv.Itoa(msg.MessageID),
			participant: displayName(msg.From),
			from:        msg.From,
			message:     msg,
		}, nil
	}
	if cq := update.CallbackQuery; cq != nil && cq.From != nil {
		in := inbound{
			contactID:   cq.From.ID,
			text:        strings.TrimSpace(cq.Data),
			messageID:   cq.ID,
			participant: displayName(cq.From),
			from:        cq.From,
			callbackID:  cq.ID,
		}
		return in, nil
	}
	return inbound{}, ErrUnsupportedUpdate
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		name = strings.TrimSpace(u.UserName)
	}
	return name
}

// sharedContact returns the contact attached to the message when it belongs
// to the sender. A forwarded contact card of somebody else is ignored.
func (in inbound) sharedContact() *tgbotapi.Contact {
	if in.message == nil || in.message.Contact == nil {
		return nil
	}
	c := in.message.Contact
	if c.UserID != 0 && c.UserID != in.contactID {
		return nil
	}
	return c
}

type attachmentSpec struct {
	fileID      string
	kind        string
	mime        string
	name        string
	messageType string
}

// pickAttachment chooses at most one attachment, in the order photo, voice,
// video, audio, document.
func pickAttachment(msg *tgbotapi.Message) (attachmentSpec, bool) {
	if msg == nil {
		return attachmentSpec{}, false
	}
	switch {
	case len(msg.Photo) > 0:
		return attachmentSpec{fileID: pickTelegramPhoto(msg.Photo).FileID, kind: forwarder.AttachmentImage, mime: "image/jpeg", messageType: "photo"}, true
	case msg.Voice != nil:
		return attachmentSpec{fileID: msg.Voice.FileID, kind: forwarder.AttachmentVoice, mime: orDefault(msg.Voice.MimeType, "audio/ogg"), messageType: "voice"}, true
	case msg.Video != nil:
		return attachmentSpec{fileID: msg.Video.FileID, kind: forwarder.AttachmentVideo, mime: orDefault(msg.Video.MimeType, "video/mp4"), name: msg.Video.FileName, messageType: "video"}, true
	case msg.Audio != nil:
		return attachmentSpec{fileID: msg.Audio.FileID, kind: forwarder.AttachmentAudio, mime: orDefault(msg.Audio.MimeType, "audio/mpeg"), name: msg.Audio.FileName, messageType: "audio"}, true
	case msg.Document != nil:
		return attachmentSpec{fileID: msg.Document.FileID, kind: forwarder.AttachmentDocument, mime: orDefault(msg.Document.MimeType, "application/octet-stream"), name: msg.Document.FileName, messageType: "document"}, true
	}
	return attachmentSpec{}, false
}

// attachments resolves the download URL of the picked attachment. A failed
// lookup drops the attachment but keeps the message type.
func (r *Router) attachments(ctx context.Context, token string, in inbound) ([]forwarder.Attachment, string) {
	spec, ok := pickAttachment(in.message)
	if !ok {
		return nil, "text"
	}
	url, err := r.messenger.FileURL(ctx, token, spec.fileID)
	if err != nil {
		r.logger.Warn("resolve file url failed", slog.String("file_id", spec.fileID), slog.Any("error", err))
		return nil, spec.messageType
	}
	return []forwarder.Attachment{{
		Type: spec.kind,
		URL:  url,
		Mime: spec.mime,
		Name: strings.TrimSpace(spec.name),
	}}, spec.messageType
}

func pickTelegramPhoto(items []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	if len(items) == 0 {
		return tgbotapi.PhotoSize{}
	}
	best := items[0]
	for _, item := range items[1:] {
		if item.FileSize > best.FileSize {
			best = item
			continue
		}
		if item.Width*item.Height > best.Width*best.Height {
			best = item
		}
	}
	return best
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}
