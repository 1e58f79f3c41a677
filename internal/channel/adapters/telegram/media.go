package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

var (
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrMediaTooLarge    = errors.New("media exceeds size limit")
)

// Media types accepted by SendMedia.
const (
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaDocument = "document"
	MediaAudio    = "audio"
	MediaVoice    = "voice"
)

const mb = 1 << 20

var mediaLimits = map[string]int64{
	MediaImage:    5 * mb,
	MediaVideo:    20 * mb,
	MediaDocument: 20 * mb,
	MediaAudio:    5 * mb,
	MediaVoice:    1 * mb,
}

// Media is a file to deliver by URL.
type Media struct {
	Type    string `json:"type"`
	URL     string `json:"url"`
	Mime    string `json:"mime"`
	Caption string `json:"caption,omitempty"`
}

// SendMedia downloads the file and uploads it to the chat. Captions are kept
// for images, videos and documents only.
func (a *Adapter) SendMedia(ctx context.Context, token string, chatID int64, m Media, kb Keyboard) (int, error) {
	kind := strings.ToLower(strings.TrimSpace(m.Type))
	limit, ok := mediaLimits[kind]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedMedia, m.Type)
	}
	bot, err := a.getOrCreateBot(token)
	if err != nil {
		return 0, err
	}
	file, err := a.download(ctx, m.URL, limit)
	if err != nil {
		return 0, err
	}
	caption := truncateRunes(sanitizeTelegramText(strings.TrimSpace(m.Caption)), telegramMaxCaptionLength, "")
	markup := kb.markup()

	var req tgbotapi.Chattable
	switch kind {
	case MediaImage:
		c := tgbotapi.NewPhoto(chatID, file)
		c.Caption = caption
		c.ReplyMarkup = markup
		req = c
	case MediaVideo:
		c := tgbotapi.NewVideo(chatID, file)
		c.Caption = caption
		c.ReplyMarkup = markup
		req = c
	case MediaDocument:
		c := tgbotapi.NewDocument(chatID, file)
		c.Caption = caption
		c.ReplyMarkup = markup
		req = c
	case MediaAudio:
		c := tgbotapi.NewAudio(chatID, file)
		c.ReplyMarkup = markup
		req = c
	case MediaVoice:
		c := tgbotapi.NewVoice(chatID, file)
		c.ReplyMarkup = markup
		req = c
	}
	sent, err := bot.Send(req)
	if err != nil {
		a.logger.Error("send media failed", slog.Int64("chat_id", chatID), slog.String("type", kind), slog.Any("error", err))
		return 0, err
	}
	return sent.MessageID, nil
}

func (a *Adapter) download(ctx context.Context, rawURL string, limit int64) (tgbotapi.FileBytes, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return tgbotapi.FileBytes{}, fmt.Errorf("media url is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return tgbotapi.FileBytes{}, fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return tgbotapi.FileBytes{}, fmt.Errorf("download media: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return tgbotapi.FileBytes{}, fmt.Errorf("download media status: %d", resp.StatusCode)
	}
	if resp.ContentLength > limit {
		return tgbotapi.FileBytes{}, fmt.Errorf("%w: max %d bytes", ErrMediaTooLarge, limit)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return tgbotapi.FileBytes{}, fmt.Errorf("read media: %w", err)
	}
	if int64(len(data)) > limit {
		return tgbotapi.FileBytes{}, fmt.Errorf("%w: max %d bytes", ErrMediaTooLarge, limit)
	}
	return tgbotapi.FileBytes{Name: guessFilename(rawURL, resp.Header), Bytes: data}, nil
}

// guessFilename takes the Content-Disposition filename, then the last URL
// path segment, then "file".
func guessFilename(rawURL string, header http.Header) string {
	if _, params, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil {
		if name := strings.TrimSpace(params["filename"]); name != "" {
			return name
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "/" && name != "." {
			return name
		}
	}
	return "file"
}
