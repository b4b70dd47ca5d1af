package knowledge

import (
	"regexp"
	"strings"
)

// wordRegex matches letter/digit runs; punctuation and symbols split.
var wordRegex = regexp.MustCompile(`[\pL\pN]+`)

// stopWords are high-frequency Indonesian and English function words
// that carry no retrieval signal. Both languages appear in snippet
// files, often mixed within one sentence.
var stopWords = buildStopWordSet([]string{
	// Indonesian
	"yang", "dan", "di", "ke", "dari", "untuk", "dengan", "pada",
	"adalah", "ini", "itu", "atau", "juga", "akan", "bisa", "ada",
	"tidak", "agar", "seperti", "karena", "saat", "jika", "sudah",
	"harus", "dalam", "saya", "anda", "kita", "para", "lebih",
	// English
	"the", "a", "an", "and", "or", "of", "to", "in", "for", "with",
	"is", "are", "be", "it", "this", "that", "on", "at", "as", "by",
})

func buildStopWordSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// tokenize lowercases, splits on non-alphanumerics, and drops stop
// words and single characters. Both the indexed text and the query run
// through it, so matching stays consistent across backends.
func tokenize(text string) []string {
	words := wordRegex.FindAllString(strings.ToLower(text), -1)

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < 2 {
			continue
		}
		if _, stop := stopWords[w]; stop {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// tokenizeJoined returns the tokenized text as one space-joined string,
// the form both backends store and match against.
func tokenizeJoined(text string) string {
	return strings.Join(tokenize(text), " ")
}
