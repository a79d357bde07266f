package ingest

import "unicode"

// CountTokens approximates the token count of s with a deterministic
// rule: every maximal run of letters or digits is one token, and every
// other non-space rune is one token on its own. The absolute numbers
// differ from any particular model tokenizer, but the count is stable
// across calls and proportional to real token usage, which is all the
// chunk metadata needs.
func CountTokens(s string) int {
	count := 0
	inWord := false
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				count++
				inWord = true
			}
		case unicode.IsSpace(r):
			inWord = false
		default:
			count++
			inWord = false
		}
	}
	return count
}
