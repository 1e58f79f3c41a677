// Package i18n holds the user-facing replies sent during onboarding.
package i18n

import "strings"

// Key identifies a reply.
type Key string

const (
	ShareContactPrompt Key = "share_contact_prompt"
	ShareContactButton Key = "share_contact_button"
	AlreadyHasOwner    Key = "already_has_owner"
	AlreadyLoggedIn    Key = "already_logged_in"
	CodeNotRecognized  Key = "code_not_recognized"
	NotAllowed         Key = "not_allowed"
	AccountDeactivated Key = "account_deactivated"
	AllSet             Key = "all_set"
	Welcome            Key = "welcome"
)

const DefaultLocale = "ru"

var catalog = map[string]map[Key]string{
	"ru": {
		ShareContactPrompt: "Почти готово! Поделитесь, пожалуйста, своим контактом, нажав на кнопку ниже.",
		ShareContactButton: "Поделиться номером",
		AlreadyHasOwner:    "У этого бота уже есть владелец.",
		AlreadyLoggedIn:    "Вы уже авторизованы.",
		CodeNotRecognized:  "Код не распознан.",
		NotAllowed:         "У вас нет доступа к этому боту.",
		AccountDeactivated: "Ваш аккаунт деактивирован. Обратитесь в поддержку.",
		AllSet:             "Готово! Теперь вы можете писать сообщения.",
		Welcome:            "Для доступа к боту используйте ссылку-приглашение.",
	},
	"en": {
		ShareContactPrompt: "Almost done! Please share your contact by tapping the button below.",
		ShareContactButton: "Share my phone",
		AlreadyHasOwner:    "This bot already has an owner.",
		AlreadyLoggedIn:    "You are already logged in.",
		CodeNotRecognized:  "Code not recognized.",
		NotAllowed:         "You are not allowed to use this bot.",
		AccountDeactivated: "Your account is deactivated. Please contact support.",
		AllSet:             "All set! You can send messages now.",
		Welcome:            "Use an invite link to get access to this bot.",
	},
}

// T returns the reply for key in locale. Unknown locales fall back to the
// default locale; regional variants such as "en-US" use their base language.
func T(locale string, key Key) string {
	locale = strings.ToLower(strings.TrimSpace(locale))
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		locale = locale[:i]
	}
	if msgs, ok := catalog[locale]; ok {
		if s, ok := msgs[key]; ok {
			return s
		}
	}
	if s, ok := catalog[DefaultLocale][key]; ok {
		return s
	}
	return string(key)
}

// Supported reports whether locale has its own catalog.
func Supported(locale string) bool {
	_, ok := catalog[strings.ToLower(strings.TrimSpace(locale))]
	return ok
}
