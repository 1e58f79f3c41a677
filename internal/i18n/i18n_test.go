package i18n

import "testing"

func TestT(t *testing.T) {
	t.Parallel()
	tests := []struct {
		locale string
		key    Key
		want   string
	}{
		{locale: "en", key: AlreadyHasOwner, want: "This bot already has an owner."},
		{locale: "en-US", key: AlreadyLoggedIn, want: "You are already logged in."},
		{locale: "", key: CodeNotRecognized, want: "Код не распознан."},
		{locale: "de", key: NotAllowed, want: "У вас нет доступа к этому боту."},
		{locale: "en", key: Key("missing"), want: "missing"},
	}
	for _, tt := range tests {
		if got := T(tt.locale, tt.key); got != tt.want {
			t.Fatalf("T(%q, %q) = %q, want %q", tt.locale, tt.key, got, tt.want)
		}
	}
}

func TestCatalogsAreComplete(t *testing.T) {
	t.Parallel()
	for key := range catalog[DefaultLocale] {
		for locale, msgs := range catalog {
			if msgs[key] == "" {
				t.Fatalf("locale %s misses %s", locale, key)
			}
		}
	}
	if !Supported("EN") || Supported("fr") {
		t.Fatal("unexpected Supported result")
	}
}
