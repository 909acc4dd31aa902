package moderation

import "strings"

// Mask is the fixed replacement for a blocklisted token.
const Mask = "***"

// defaultBlocklist is the built-in set of prohibited terms. Matching is by
// whole token, case-insensitive, so "assess" or "scamper" never match.
var defaultBlocklist = []string{
	// scams and fraud
	"scam", "scammer", "phishing", "fraud", "ponzi",
	// harassment and slurs
	"nigger", "faggot", "retard", "whore", "slut",
	// generic profanity
	"fuck", "shit", "bitch", "asshole", "cunt",
	// solicitation
	"nudes", "onlyfans", "viagra",
}

// FilterResult is the outcome of the deterministic Stage A check.
type FilterResult struct {
	Filtered bool          // at least one token was masked
	Masked   string        // content with blocklisted tokens replaced by Mask
	Terms    []string      // the blocklist terms that matched
	Toxicity ToxicityLevel // low for clean, medium when filtered or spammy
	Reason   string        // empty for clean content
}

// Filter is the deterministic blocklist filter. It is immutable after
// construction and safe for concurrent use.
type Filter struct {
	words map[string]struct{}
}

// NewFilter creates a Filter with the built-in blocklist.
func NewFilter() *Filter {
	return NewFilterWithTerms(defaultBlocklist)
}

// NewFilterWithTerms creates a Filter with a custom blocklist. Empty and
// whitespace-only terms are ignored.
func NewFilterWithTerms(terms []string) *Filter {
	words := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		words[t] = struct{}{}
	}
	return &Filter{words: words}
}

// Check tokenizes content on whitespace and compares each token,
// lowercased, against the blocklist. Matching tokens are replaced with
// Mask. Punctuation hugging a token does not defeat the match: "scam!"
// masks the same as "scam", and the punctuation is masked with it.
//
// A spam-pattern hit (URLs, phone numbers, flooding) does not mask anything
// on its own but raises the toxicity grade to medium with a distinct reason
// so the decision record captures the signal.
func (f *Filter) Check(content string) FilterResult {
	fields := strings.Fields(content)
	var (
		matched []string
		hit     bool
	)

	masked := content
	for _, tok := range fields {
		term := strings.ToLower(strings.Trim(tok, tokenPunct))
		if term == "" {
			continue
		}
		if _, ok := f.words[term]; !ok {
			continue
		}
		hit = true
		matched = append(matched, term)
		masked = replaceToken(masked, tok)
	}

	if hit {
		return FilterResult{
			Filtered: true,
			Masked:   masked,
			Terms:    matched,
			Toxicity: ToxicityMedium,
			Reason:   "Inappropriate content detected and filtered",
		}
	}

	if reason, ok := checkSpamPatterns(content); ok {
		return FilterResult{
			Masked:   content,
			Toxicity: ToxicityMedium,
			Reason:   reason,
		}
	}

	return FilterResult{Masked: content, Toxicity: ToxicityLow}
}

// tokenPunct is the punctuation stripped from token edges before the
// blocklist comparison.
const tokenPunct = ".,!?;:'\"()[]{}<>"

// replaceToken replaces every whitespace-delimited occurrence of tok in
// content with Mask, preserving the surrounding whitespace exactly.
func replaceToken(content, tok string) string {
	var b strings.Builder
	b.Grow(len(content))

	i := 0
	for i < len(content) {
		// Copy leading whitespace.
		start := i
		for i < len(content) && isSpace(content[i]) {
			i++
		}
		b.WriteString(content[start:i])

		// Scan the next token.
		start = i
		for i < len(content) && !isSpace(content[i]) {
			i++
		}
		word := content[start:i]
		if word == tok {
			b.WriteString(Mask)
		} else {
			b.WriteString(word)
		}
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
