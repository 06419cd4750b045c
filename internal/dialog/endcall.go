package dialog

import "strings"

// endPhrases holds normalized termination phrases per language. Matching is
// by containment against the normalized transcript.
var endPhrases = map[Language][]string{
	LangEnglish: {
		"end call", "end the call", "goodbye", "good bye", "bye bye", "bye",
		"thats all", "that is all", "no more questions", "no more query",
		"no query", "nothing else", "thank you goodbye", "no more",
	},
	LangUrdu: {
		"khatam", "call khatam", "khatam karo", "call khatam karo", "bas",
		"aur nahi", "koi sawal nahi", "sawal nahi", "phone rakh do",
		"khuda hafiz", "allah hafiz",
	},
}

// EndCallDetector matches termination phrases, language-aware. It runs
// before retrieval so an end-call utterance never triggers a knowledge
// lookup.
type EndCallDetector struct {
	phrases map[Language][]string
}

// NewEndCallDetector builds the detector with the default phrase tables.
func NewEndCallDetector() *EndCallDetector {
	return &EndCallDetector{phrases: endPhrases}
}

// IsEndCall reports whether transcript asks to end the call. The active
// language's set is checked first, then the other configured set, so a
// termination phrase ends the call regardless of the session language.
func (d *EndCallDetector) IsEndCall(transcript string, lang Language) bool {
	norm := Normalize(transcript)
	if len(norm) < 3 {
		return false
	}
	langs := []Language{LangEnglish, LangUrdu}
	if lang == LangUrdu {
		langs = []Language{LangUrdu, LangEnglish}
	}
	for _, l := range langs {
		for _, p := range d.phrases[l] {
			if containsPhrase(norm, p) {
				return true
			}
		}
	}
	return false
}

// containsPhrase matches p on token boundaries inside norm, so "bas" does
// not fire inside "basic".
func containsPhrase(norm, p string) bool {
	idx := strings.Index(norm, p)
	for idx >= 0 {
		before := idx == 0 || norm[idx-1] == ' '
		end := idx + len(p)
		after := end == len(norm) || norm[end] == ' '
		if before && after {
			return true
		}
		next := strings.Index(norm[idx+1:], p)
		if next < 0 {
			return false
		}
		idx += 1 + next
	}
	return false
}
