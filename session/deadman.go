package session

import "strings"

// defaultKeywords are the phrases that indicate an anti-automation
// challenge rather than an ordinary page.
var defaultKeywords = []string{
	"challenge",
	"verify",
	"captcha",
	"are you human",
	"unusual traffic",
}

// DeadManSwitch scans text for challenge indicators. Matching is
// case-insensitive substring search; it never mutates session state
// itself, the session reacts to a hit.
type DeadManSwitch struct {
	keywords []string
}

// NewDeadManSwitch builds a switch over the given keywords. Nil or
// empty uses the defaults.
func NewDeadManSwitch(keywords []string) *DeadManSwitch {
	if len(keywords) == 0 {
		keywords = defaultKeywords
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &DeadManSwitch{keywords: lowered}
}

// Scan reports the first matched keyword, if any.
func (d *DeadManSwitch) Scan(text string) (keyword string, hit bool) {
	lowered := strings.ToLower(text)
	for _, k := range d.keywords {
		if strings.Contains(lowered, k) {
			return k, true
		}
	}
	return "", false
}
