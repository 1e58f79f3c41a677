package webhook

import (
	"strings"
	"unicode"
)

const (
	startCommand   = "/start"
	maxCommandLen  = 32
	maxCommandDesc = 256
)

var cyrillicToLatin = map[rune]string{
	'а': "a", 'б': "b", 'в': "v", 'г': "g", 'д': "d", 'е': "e", 'ё': "e",
	'ж': "zh", 'з': "z", 'и': "i", 'й': "y", 'к': "k", 'л': "l", 'м': "m",
	'н': "n", 'о': "o", 'п': "p", 'р': "r", 'с': "s", 'т': "t", 'у': "u",
	'ф': "f", 'х': "h", 'ц': "ts", 'ч': "ch", 'ш': "sh", 'щ': "sch", 'ъ': "",
	'ы': "y", 'ь': "", 'э': "e", 'ю': "yu", 'я': "ya",
}

// NormalizeCommand turns a human-chosen project code or title into a stable
// command token: lower-cased, Cyrillic transliterated, everything except
// ASCII letters and digits dropped. "Оплата Заказа" becomes "oplatazakaza".
func NormalizeCommand(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if latin, ok := cyrillicToLatin[r]; ok {
			b.WriteString(latin)
			continue
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// commandToken returns the normalized leading slash-command of text, without
// any "@botname" suffix. ok is false when text is not a command.
func commandToken(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	head := text[1:]
	if i := strings.IndexFunc(head, unicode.IsSpace); i >= 0 {
		head = head[:i]
	}
	if i := strings.IndexByte(head, '@'); i >= 0 {
		head = head[:i]
	}
	token := NormalizeCommand(head)
	return token, token != ""
}

// parseStartCode extracts the onboarding code from "/start CODE" or
// "/start=CODE". ok is false when text is not a start command.
func parseStartCode(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, startCommand) {
		return "", false
	}
	rest := text[len(startCommand):]
	if strings.HasPrefix(rest, "@") {
		if i := strings.IndexAny(rest, " ="); i >= 0 {
			rest = rest[i:]
		} else {
			rest = ""
		}
	}
	switch {
	case rest == "":
		return "", true
	case rest[0] == '=' || rest[0] == ' ':
		return strings.TrimSpace(rest[1:]), true
	}
	return "", false
}

func truncateCommand(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
