package observer

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the longest candidate accepted as a single message,
// in runes. Longer text is bulk content picked up by a too-wide selector.
const DefaultMaxLength = 2000

// DefaultNoise are UI strings that are never messages, matched exactly
// after normalisation, case-insensitively.
var DefaultNoise = []string{
	// relative dates
	"сегодня", "вчера", "позавчера", "today", "yesterday",
	// weekdays
	"понедельник", "вторник", "среда", "четверг", "пятница", "суббота", "воскресенье",
	"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday",
	// delivery state
	"отправлено", "доставлено", "прочитано", "не доставлено", "печатает…", "печатает...",
	"sent", "delivered", "read", "typing…", "typing...",
	// navigation and account chrome
	"сообщения", "написать", "отправить", "ответить", "профиль", "мои объявления",
	"избранное", "уведомления", "настройки", "выйти", "войти", "в сети", "онлайн",
	"новое сообщение", "новые сообщения", "загрузить ещё", "показать ещё",
	"messages", "send", "reply", "online", "load more",
}

// DefaultNoisePatterns match UI strings with variable parts.
var DefaultNoisePatterns = []string{
	`^\d{1,2}:\d{2}$`,
	`^\d{1,2}\.\d{1,2}(\.\d{2,4})?$`,
	`^\d{1,2} (января|февраля|марта|апреля|мая|июня|июля|августа|сентября|октября|ноября|декабря)( \d{4})?( г\.?)?$`,
	`^(сегодня|вчера|позавчера|today|yesterday),?( в| at)? \d{1,2}:\d{2}$`,
	`^(пн|вт|ср|чт|пт|сб|вс|mon|tue|wed|thu|fri|sat|sun)\.?,? \d{1,2}:\d{2}$`,
	`^(был|была|были) (в сети|онлайн)`,
	`^(last seen|was online)`,
	`^\d+ (секунд|минут|час|дн|недел|месяц)\S* назад$`,
	`^\d+ (seconds?|minutes?|hours?|days?|weeks?) ago$`,
	`^\d+ (непрочитанн\S+|новы\S+ сообщени\S+)$`,
}

// Filter decides whether an extracted candidate is a genuine message. It
// is deterministic: the same input always gives the same verdict.
type Filter struct {
	noise     map[string]struct{}
	patterns  []*regexp.Regexp
	maxLength int
}

// NewFilter builds a filter from the default denylist plus extra entries.
// Patterns are case-insensitive regular expressions. maxLength <= 0 means
// DefaultMaxLength.
func NewFilter(extraNoise, extraPatterns []string, maxLength int) (*Filter, error) {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	f := &Filter{
		noise:     make(map[string]struct{}),
		maxLength: maxLength,
	}
	for _, n := range append(append([]string(nil), DefaultNoise...), extraNoise...) {
		if n = strings.ToLower(collapse(n)); n != "" {
			f.noise[n] = struct{}{}
		}
	}
	for _, p := range append(append([]string(nil), DefaultNoisePatterns...), extraPatterns...) {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("observer: noise pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Normalize trims and collapses whitespace. Its input is rendered text
// (innerText or decoded text nodes), so angle brackets and ampersands are
// message content and stay as they are.
func (f *Filter) Normalize(s string) string {
	return collapse(s)
}

// Accept normalises text and reports whether it qualifies as a message.
func (f *Filter) Accept(text string) (string, bool) {
	text = f.Normalize(text)
	if text == "" || utf8.RuneCountInString(text) > f.maxLength {
		return "", false
	}
	if _, ok := f.noise[strings.ToLower(text)]; ok {
		return "", false
	}
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return "", false
		}
	}
	return text, true
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
