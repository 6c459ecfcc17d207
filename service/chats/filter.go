package chats

import "regexp"

const Hidden = "[hidden]"

type contactPattern struct {
	re   *regexp.Regexp
	repl string
}

var contactPatterns = []contactPattern{
	// email addresses
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), Hidden},
	// links
	{regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`), Hidden},
	{regexp.MustCompile(`(?i)\b[a-z0-9\-]+\.(?:com|net|org|io|co|gh|me|ly|app|link|info)\b(?:/\S*)?`), Hidden},
	// @handles, not the @ inside an address
	{regexp.MustCompile(`\B@[A-Za-z0-9_.]{2,}`), Hidden},
	// messaging apps that are never ordinary words
	{regexp.MustCompile(`(?i)\b(?:whats\s?app|telegram|viber|snapchat|instagram|wechat|tiktok)\b`), Hidden},
	// signal, messenger and imo only when someone is being invited onto them
	{regexp.MustCompile(`(?i)\b((?:on|via|use|using|add me on|chat on|text me on|message me on)\s+)(?:signal|messenger|imo)\b`), "${1}" + Hidden},
}

// phone numbers: nine or more digits with light punctuation
var (
	phonePattern = regexp.MustCompile(`\+?\(?\d(?:[\s().\-]{0,2}\d){8,}`)
	datePrefix   = regexp.MustCompile(`^(?:\d{4}-\d{2}-\d{2}|\d{2}[.\-]\d{2}[.\-]\d{4})`)
)

// FilterContactInfo replaces emails, links, phone numbers, social handles
// and messaging-app invitations with [hidden]. It reports whether anything
// was replaced.
func FilterContactInfo(text string) (string, bool) {
	out := text
	for _, p := range contactPatterns {
		out = p.re.ReplaceAllString(out, p.repl)
	}
	out = hidePhones(out)
	return out, out != text
}

// hidePhones masks digit runs, leaving a leading calendar date intact so
// "2026-03-05 10:30" is not read as one number.
func hidePhones(text string) string {
	return phonePattern.ReplaceAllStringFunc(text, func(m string) string {
		if d := datePrefix.FindString(m); d != "" {
			return d + hidePhones(m[len(d):])
		}
		return Hidden
	})
}
