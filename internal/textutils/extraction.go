// Package textutils provides case folding and keyword extraction for
// transaction descriptions.
package textutils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Fold returns the case-folded form of s for caseless comparison.
// A Caser is stateful, so one is created per call.
func Fold(s string) string {
	return cases.Fold().String(s)
}

// Lower lower-cases s using language-neutral rules.
func Lower(s string) string {
	return cases.Lower(language.Und).String(s)
}

// EqualFold reports whether a and b are equal under case folding.
func EqualFold(a, b string) bool {
	return Fold(a) == Fold(b)
}

// ContainsFold reports whether substr occurs in s under case folding.
func ContainsFold(s, substr string) bool {
	return strings.Contains(Fold(s), Fold(substr))
}

// KeywordOptions tunes ExtractKeywords.
type KeywordOptions struct {
	// MinLength is the minimum rune count a token must reach.
	MinLength int
	// Max is the maximum number of keywords returned.
	Max int
}

// DefaultKeywordOptions keeps tokens of four runes or more, at most three.
var DefaultKeywordOptions = KeywordOptions{MinLength: 4, Max: 3}

// ExtractKeywords lower-cases description, splits it on whitespace, trims
// surrounding punctuation from each token and keeps the first opts.Max
// tokens that are long enough and not stop words. Order of appearance is
// preserved and duplicates are dropped.
func ExtractKeywords(description string, opts KeywordOptions) []string {
	if opts.MinLength <= 0 {
		opts.MinLength = DefaultKeywordOptions.MinLength
	}
	if opts.Max <= 0 {
		opts.Max = DefaultKeywordOptions.Max
	}

	var keywords []string
	seen := make(map[string]struct{})
	for _, raw := range strings.Fields(Lower(description)) {
		token := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if len([]rune(token)) < opts.MinLength || IsStopWord(token) {
			continue
		}
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		keywords = append(keywords, token)
		if len(keywords) == opts.Max {
			break
		}
	}
	return keywords
}

// IsStopWord reports whether the lower-cased token carries no identifying
// meaning in a transaction description.
func IsStopWord(token string) bool {
	_, ok := stopWords[token]
	return ok
}

var stopWords = func() map[string]struct{} {
	words := []string{
		// Portuguese
		"para", "pelo", "pela", "pelos", "pelas", "como", "mais", "entre",
		"sobre", "numa", "este", "esta", "isso", "aquele", "aquela",
		"compra", "compras", "pagamento", "pagto", "debito", "débito",
		"credito", "crédito", "transferencia", "transferência", "boleto",
		"cartao", "cartão", "parcela", "fatura", "valor", "conta",
		// English
		"with", "from", "into", "this", "that", "your", "their", "about",
		"payment", "purchase", "card", "debit", "credit", "transfer",
		"online", "order", "invoice",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}()
