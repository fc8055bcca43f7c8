package transcribe

import (
	"strings"
	"unicode"
)

// The external transcriber occasionally hallucinates punctuation-only or
// filler text out of background noise. IsTrash guards the transcript and the
// live notifications from that output.

const (
	minMeaningfulRunes = 10
	minWordTokens      = 3
	minLetterDensity   = 0.6
)

// Short utterances that carry meaning on their own and must never be dropped
// for being short.
var allowShort = map[string]struct{}{
	"tamam": {}, "evet": {}, "hayır": {}, "peki": {}, "olur": {},
	"anladım": {}, "alo": {}, "merhaba": {}, "günaydın": {},
	"teşekkürler": {}, "teşekkür ederim": {}, "sağ ol": {}, "sağolun": {},
	"iyi günler": {}, "iyi akşamlar": {}, "görüşürüz": {}, "hoşça kal": {},
	"geçmiş olsun": {},
	"ok": {}, "okay": {}, "yes": {}, "no": {}, "hello": {}, "hi": {},
	"thanks": {}, "thank you": {}, "bye": {}, "goodbye": {},
}

// Hesitation sounds and laughter markers. A line made only of these is noise.
var fillerWords = map[string]struct{}{
	"um": {}, "uh": {}, "hmm": {}, "hm": {}, "mm": {}, "mhm": {},
	"ee": {}, "eee": {}, "ıı": {}, "ııı": {}, "aa": {}, "aaa": {},
	"ah": {}, "oh": {}, "eh": {}, "ha": {}, "hı": {}, "hıhı": {},
	"şey": {}, "yani": {}, "hani": {}, "falan": {}, "işte": {},
	"haha": {}, "hahaha": {}, "hehe": {}, "hihi": {},
}

// IsTrash classifies transcribed text as noise/filler. Rules apply in order:
// empty, allow-list, minimum length, minimum word count, letter density,
// all-filler.
func IsTrash(text string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return true
	}

	if _, ok := allowShort[strings.Trim(norm, ".,!?")]; ok {
		return false
	}

	if len([]rune(norm)) < minMeaningfulRunes {
		return true
	}

	tokens := strings.Fields(norm)
	words := 0
	for _, tok := range tokens {
		if hasLetter(tok) {
			words++
		}
	}
	if words < minWordTokens {
		return true
	}

	if letterDensity(norm) < minLetterDensity {
		return true
	}

	allFiller := true
	for _, tok := range tokens {
		if _, ok := fillerWords[strings.Trim(tok, ".,!?-")]; !ok {
			allFiller = false
			break
		}
	}
	return allFiller
}

func hasLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

// letterDensity is the share of letter runes over all runes, spaces included.
func letterDensity(s string) float64 {
	total := 0
	letters := 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) {
			letters++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(letters) / float64(total)
}
