package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Quick-reply types that map to special reply-keyboard buttons.
const (
	QuickReplyText     = "text"
	QuickReplyPhone    = "phone"
	QuickReplyLocation = "location"
)

// QuickReply is one reply-keyboard button.
type QuickReply struct {
	Text  string `json:"text"`
	Type  string `json:"type"`
	Color string `json:"color,omitempty"`
}

// InlineButton is one inline-keyboard button. URL wins over Payload.
type InlineButton struct {
	Text    string `json:"text"`
	Payload string `json:"payload"`
	Color   string `json:"color,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Keyboard describes the markup attached to an outgoing message. At most one
// kind is applied, in the order Remove, Inline, Reply.
type Keyboard struct {
	Reply  [][]QuickReply
	Inline [][]InlineButton
	Remove bool
}

// ContactRequest is a one-button reply keyboard asking for the user's phone.
func ContactRequest(label string) Keyboard {
	return Keyboard{Reply: [][]QuickReply{{{Text: label, Type: QuickReplyPhone}}}}
}

// RemoveKeyboard hides any reply keyboard shown to the user.
func RemoveKeyboard() Keyboard {
	return Keyboard{Remove: true}
}

func (k Keyboard) markup() any {
	switch {
	case k.Remove:
		return tgbotapi.NewRemoveKeyboard(false)
	case len(k.Inline) > 0:
		return inlineMarkup(k.Inline)
	case len(k.Reply) > 0:
		return replyMarkup(k.Reply)
	}
	return nil
}

func replyMarkup(rows [][]QuickReply) any {
	out := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, q := range row {
			text := strings.TrimSpace(q.Text)
			if text == "" {
				continue
			}
			switch strings.ToLower(strings.TrimSpace(q.Type)) {
			case QuickReplyPhone:
				buttons = append(buttons, tgbotapi.NewKeyboardButtonContact(text))
			case QuickReplyLocation:
				buttons = append(buttons, tgbotapi.NewKeyboardButtonLocation(text))
			default:
				buttons = append(buttons, tgbotapi.NewKeyboardButton(text))
			}
		}
		if len(buttons) > 0 {
			out = append(out, buttons)
		}
	}
	if len(out) == 0 {
		return nil
	}
	kb := tgbotapi.NewReplyKeyboard(out...)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func inlineMarkup(rows [][]InlineButton) any {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			text := strings.TrimSpace(b.Text)
			if text == "" {
				continue
			}
			if url := strings.TrimSpace(b.URL); url != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(text, url))
				continue
			}
			payload := b.Payload
			if payload == "" {
				payload = text
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(text, payload))
		}
		if len(buttons) > 0 {
			out = append(out, buttons)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}
