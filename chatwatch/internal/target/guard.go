package target

import "strings"

// DefaultGenericTitles are conversation titles the platform itself owns
// (support desk, system notifications). A channel carrying one of these
// titles is never adopted as a watch target without an explicit re-bind.
var DefaultGenericTitles = []string{
	"Авито",
	"Avito",
	"Поддержка Авито",
	"Служба поддержки",
	"Поддержка",
	"Avito Support",
	"Support",
	"Уведомления",
	"Авито Доставка",
	"Avito Delivery",
	"Сообщения",
	"Messenger",
}

// IsGenericTitle reports whether title is one of the generic names in
// list (case-insensitive, surrounding whitespace ignored). An empty title
// is not generic: a header that could not be read must not block watching.
func IsGenericTitle(title string, list []string) bool {
	t := strings.TrimSpace(title)
	if t == "" {
		return false
	}
	for _, g := range list {
		if strings.EqualFold(t, strings.TrimSpace(g)) {
			return true
		}
	}
	return false
}
