// Package dialog holds the table-driven conversational decisions that run
// before retrieval on every turn: language routing, end-of-call detection,
// escalation, and callback-number capture.
package dialog

import (
	"strings"
	"unicode"
)

// Language is the active conversation language of a session.
type Language string

const (
	// LangUnknown is the neutral start state before the caller has chosen.
	LangUnknown Language = ""
	LangEnglish Language = "english"
	LangUrdu    Language = "urdu"
)

// Hint returns the ISO hint passed to the transcription provider.
func (l Language) Hint() string {
	switch l {
	case LangEnglish:
		return "en"
	case LangUrdu:
		return "ur"
	default:
		return ""
	}
}

// switchPattern matches a language-switch request. Exact patterns match the
// whole normalized utterance; the rest match by containment.
type switchPattern struct {
	text  string
	exact bool
}

var switchPatterns = map[Language][]switchPattern{
	LangEnglish: {
		{text: "english", exact: true},
		{text: "angrezi", exact: true},
		{text: "speak english"},
		{text: "in english"},
		{text: "switch to english"},
		{text: "english mein"},
		{text: "angrezi mein"},
	},
	LangUrdu: {
		{text: "urdu", exact: true},
		{text: "speak urdu"},
		{text: "in urdu"},
		{text: "switch to urdu"},
		{text: "urdu mein"},
		{text: "urdu main baat"},
	},
}

// Router detects language-switch requests in transcripts. It is stateless;
// the session owns the active language.
type Router struct{}

// NewRouter constructs a Router.
func NewRouter() *Router { return &Router{} }

// DetectSwitch scans the transcript for an explicit language request and
// returns the requested language. It runs once per turn, before the
// transcript reaches retrieval, so a switch request is never treated as a
// knowledge query.
func (r *Router) DetectSwitch(transcript string) (Language, bool) {
	norm := Normalize(transcript)
	if norm == "" {
		return LangUnknown, false
	}
	for _, lang := range []Language{LangUrdu, LangEnglish} {
		for _, p := range switchPatterns[lang] {
			if p.exact {
				if norm == p.text {
					return lang, true
				}
				continue
			}
			if strings.Contains(norm, p.text) {
				return lang, true
			}
		}
	}
	return LangUnknown, false
}

// Normalize lower-cases text, strips punctuation and collapses whitespace so
// phrase tables match spoken transcripts reliably.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// fillers are transcripts that carry no intent; the agent never answers
// these. "yes"/"no" are deliberately not listed since they can be a language
// choice or a merit answer.
var fillers = map[string]struct{}{
	"uh": {}, "um": {}, "hmm": {}, "ah": {}, "oh": {}, "na": {},
	"mm": {}, "mhm": {}, "err": {}, "eh": {}, "uh huh": {}, "ok": {}, "okay": {},
}

// Meaningful reports whether the transcript contains enough signal to start
// a turn. Silence and filler noise return false.
func Meaningful(transcript string) bool {
	norm := Normalize(transcript)
	if len(norm) < 2 {
		return false
	}
	_, filler := fillers[norm]
	return !filler
}
