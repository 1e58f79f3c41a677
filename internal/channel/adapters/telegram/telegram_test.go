package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/corpai/tggateway/internal/config"
)

type apiCall struct {
	method string
	params map[string]string
}

// fakeBotAPI emulates the subset of the Bot API the adapter uses.
type fakeBotAPI struct {
	mu    sync.Mutex
	calls []apiCall
}

func (f *fakeBotAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		method := parts[len(parts)-1]
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				t.Errorf("parse multipart: %v", err)
			}
		} else if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		params := map[string]string{}
		for k, v := range r.Form {
			params[k] = v[0]
		}
		f.mu.Lock()
		f.calls = append(f.calls, apiCall{method: method, params: params})
		f.mu.Unlock()

		var result any = true
		switch method {
		case "getMe":
			result = map[string]any{"id": 42, "is_bot": true, "first_name": "Shop", "username": "shop_bot"}
		case "sendMessage", "sendPhoto", "sendVideo", "sendDocument", "sendAudio", "sendVoice":
			result = map[string]any{"message_id": 77, "date": 0, "chat": map[string]any{"id": 7, "type": "private"}}
		case "getFile":
			result = map[string]any{"file_id": params["file_id"], "file_path": "photos/file_1.jpg"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	})
}

func (f *fakeBotAPI) last(method string) (apiCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.calls) - 1; i >= 0; i-- {
		if f.calls[i].method == method {
			return f.calls[i], true
		}
	}
	return apiCall{}, false
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeBotAPI) {
	t.Helper()
	fake := &fakeBotAPI{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	adapter := NewAdapter(nil, config.TelegramConfig{
		APIEndpoint: srv.URL + "/bot%s/%s",
		Timeout:     "2s",
	})
	return adapter, fake
}

func TestIdentify(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	id, err := adapter.Identify(context.Background(), "42:TOKEN")
	if err != nil {
		t.Fatalf("identify: %v", err)
	}
	if id.ID != 42 || id.Username != "shop_bot" || id.DisplayName() != "Shop" {
		t.Fatalf("unexpected identity: %+v", id)
	}
	if _, err := adapter.Identify(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestSendTextWithContactRequest(t *testing.T) {
	adapter, fake := newTestAdapter(t)
	id, err := adapter.SendText(context.Background(), "42:TOKEN", 7, "share please", ContactRequest("Share phone"))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != 77 {
		t.Fatalf("expected message id 77, got %d", id)
	}
	call, ok := fake.last("sendMessage")
	if !ok {
		t.Fatal("sendMessage not called")
	}
	if call.params["chat_id"] != "7" || call.params["text"] != "share please" {
		t.Fatalf("unexpected params: %#v", call.params)
	}
	if !strings.Contains(call.params["reply_markup"], `"request_contact":true`) {
		t.Fatalf("expected contact button, got %s", call.params["reply_markup"])
	}
}

func TestSendTextRemoveKeyboard(t *testing.T) {
	adapter, fake := newTestAdapter(t)
	if _, err := adapter.SendText(context.Background(), "42:TOKEN", 7, "done", RemoveKeyboard()); err != nil {
		t.Fatalf("send: %v", err)
	}
	call, _ := fake.last("sendMessage")
	if !strings.Contains(call.params["reply_markup"], `"remove_keyboard":true`) {
		t.Fatalf("expected remove_keyboard, got %s", call.params["reply_markup"])
	}
}

func TestSendTextRejectsEmpty(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	if _, err := adapter.SendText(context.Background(), "42:TOKEN", 7, "  ", Keyboard{}); err == nil {
		t.Fatal("expected error for empty text")
	}
}

func TestReplyMarkupMapsQuickReplyTypes(t *testing.T) {
	t.Parallel()
	kb := Keyboard{Reply: [][]QuickReply{
		{{Text: "Phone", Type: "phone"}, {Text: "Where", Type: "location"}},
		{{Text: "Plain", Type: "text"}, {Text: " "}},
	}}
	raw, err := json.Marshal(kb.markup())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded struct {
		Keyboard [][]map[string]any `json:"keyboard"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Keyboard) != 2 || len(decoded.Keyboard[1]) != 1 {
		t.Fatalf("unexpected layout: %s", raw)
	}
	if decoded.Keyboard[0][0]["request_contact"] != true {
		t.Fatalf("phone button must request contact: %s", raw)
	}
	if decoded.Keyboard[0][1]["request_location"] != true {
		t.Fatalf("location button must request location: %s", raw)
	}
	if (Keyboard{}).markup() != nil {
		t.Fatal("empty keyboard must produce no markup")
	}
}

func TestInlineMarkupPrefersURL(t *testing.T) {
	t.Parallel()
	kb := Keyboard{Inline: [][]InlineButton{{{Text: "Open", URL: "https://example.com", Payload: "x"}, {Text: "Pay"}}}}
	raw, _ := json.Marshal(kb.markup())
	s := string(raw)
	if !strings.Contains(s, `"url":"https://example.com"`) || !strings.Contains(s, `"callback_data":"Pay"`) {
		t.Fatalf("unexpected inline markup: %s", s)
	}
}

func TestSendMediaUploadsPhotoWithTruncatedCaption(t *testing.T) {
	adapter, fake := newTestAdapter(t)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="cat.jpg"`)
		_, _ = w.Write([]byte("jpeg-bytes"))
	}))
	defer files.Close()

	caption := strings.Repeat("я", 1500)
	id, err := adapter.SendMedia(context.Background(), "42:TOKEN", 7, Media{Type: "image", URL: files.URL + "/x", Caption: caption}, Keyboard{})
	if err != nil {
		t.Fatalf("send media: %v", err)
	}
	if id != 77 {
		t.Fatalf("expected message id 77, got %d", id)
	}
	call, ok := fake.last("sendPhoto")
	if !ok {
		t.Fatal("sendPhoto not called")
	}
	if n := utf8.RuneCountInString(call.params["caption"]); n != telegramMaxCaptionLength {
		t.Fatalf("expected caption of %d runes, got %d", telegramMaxCaptionLength, n)
	}
}

func TestSendMediaDropsCaptionForVoice(t *testing.T) {
	adapter, fake := newTestAdapter(t)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ogg"))
	}))
	defer files.Close()
	if _, err := adapter.SendMedia(context.Background(), "42:TOKEN", 7, Media{Type: "voice", URL: files.URL + "/v.ogg", Caption: "hi"}, Keyboard{}); err != nil {
		t.Fatalf("send media: %v", err)
	}
	call, _ := fake.last("sendVoice")
	if call.params["caption"] != "" {
		t.Fatalf("voice must not carry a caption: %#v", call.params)
	}
}

func TestSendMediaLimits(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	big := strings.Repeat("x", mb+1)
	files := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(big))
	}))
	defer files.Close()

	_, err := adapter.SendMedia(context.Background(), "42:TOKEN", 7, Media{Type: "voice", URL: files.URL}, Keyboard{})
	if !errors.Is(err, ErrMediaTooLarge) {
		t.Fatalf("expected ErrMediaTooLarge, got %v", err)
	}
	_, err = adapter.SendMedia(context.Background(), "42:TOKEN", 7, Media{Type: "sticker", URL: files.URL}, Keyboard{})
	if !errors.Is(err, ErrUnsupportedMedia) {
		t.Fatalf("expected ErrUnsupportedMedia, got %v", err)
	}
}

func TestSetWebhookSendsSecret(t *testing.T) {
	adapter, fake := newTestAdapter(t)
	if err := adapter.SetWebhook(context.Background(), "42:TOKEN", "https://gw.example.com/webhook/42", "s3cret"); err != nil {
		t.Fatalf("set webhook: %v", err)
	}
	call, ok := fake.last("setWebhook")
	if !ok {
		t.Fatal("setWebhook not called")
	}
	if call.params["url"] != "https://gw.example.com/webhook/42" || call.params["secret_token"] != "s3cret" {
		t.Fatalf("unexpected params: %#v", call.params)
	}
	if err := adapter.DeleteWebhook(context.Background(), "42:TOKEN"); err != nil {
		t.Fatalf("delete webhook: %v", err)
	}
	if _, ok := fake.last("deleteWebhook"); !ok {
		t.Fatal("deleteWebhook not called")
	}
}

func TestSetCommandsAndCallback(t *testing.T) {
	adapter, fake := newTestAdapter(t)
	ctx := context.Background()
	if err := adapter.SetCommands(ctx, "42:TOKEN", []Command{{Command: "sales", Description: "Sales"}}); err != nil {
		t.Fatalf("set commands: %v", err)
	}
	call, ok := fake.last("setMyCommands")
	if !ok || !strings.Contains(call.params["commands"], `"command":"sales"`) {
		t.Fatalf("unexpected setMyCommands call: %#v", call)
	}
	if err := adapter.SetCommands(ctx, "42:TOKEN", nil); err != nil {
		t.Fatalf("clear commands: %v", err)
	}
	if _, ok := fake.last("deleteMyCommands"); !ok {
		t.Fatal("empty list must delete commands")
	}
	if err := adapter.AnswerCallback(ctx, "42:TOKEN", "cb-1"); err != nil {
		t.Fatalf("answer callback: %v", err)
	}
	if call, _ := fake.last("answerCallbackQuery"); call.params["callback_query_id"] != "cb-1" {
		t.Fatalf("unexpected callback params: %#v", call.params)
	}
}

func TestFileURL(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	url, err := adapter.FileURL(context.Background(), "42:TOKEN", "f-1")
	if err != nil {
		t.Fatalf("file url: %v", err)
	}
	if !strings.HasSuffix(url, "/file/bot42:TOKEN/photos/file_1.jpg") {
		t.Fatalf("unexpected url: %s", url)
	}
}

func TestGuessFilename(t *testing.T) {
	t.Parallel()
	h := http.Header{}
	if got := guessFilename("https://x.test/a/report.pdf?x=1", h); got != "report.pdf" {
		t.Fatalf("expected report.pdf, got %q", got)
	}
	h.Set("Content-Disposition", `attachment; filename="invoice.pdf"`)
	if got := guessFilename("https://x.test/a/report.pdf", h); got != "invoice.pdf" {
		t.Fatalf("expected invoice.pdf, got %q", got)
	}
	if got := guessFilename("https://x.test/", http.Header{}); got != "file" {
		t.Fatalf("expected file, got %q", got)
	}
}

func TestTruncateTelegramText(t *testing.T) {
	t.Parallel()
	long := strings.Repeat("ж", telegramMaxMessageLength+10)
	out := truncateTelegramText(long)
	if utf8.RuneCountInString(out) != telegramMaxMessageLength || !strings.HasSuffix(out, "...") {
		t.Fatalf("unexpected truncation: %d runes", utf8.RuneCountInString(out))
	}
	if truncateTelegramText("short") != "short" {
		t.Fatal("short text must be unchanged")
	}
}
