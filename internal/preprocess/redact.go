package preprocess

import (
	"regexp"
)

// DefaultReplacement is substituted for every detected entity.
const DefaultReplacement = "<REDACTED>"

type rule struct {
	entity string
	re     *regexp.Regexp
	// valid, when set, must accept a match before it is replaced.
	valid func(string) bool
}

// Rules run in order; earlier rules win where patterns overlap, e.g. an
// e-mail address is never seen by the URL rule.
var redactRules = []rule{
	{entity: "EMAIL_ADDRESS", re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)},
	{entity: "URL", re: regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)},
	{entity: "US_SSN", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{entity: "CREDIT_CARD", re: regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`), valid: luhn},
	{entity: "IP_ADDRESS", re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`)},
	{entity: "PHONE_NUMBER", re: regexp.MustCompile(`(?:\+?1[\-. ]?)?(?:\(\d{3}\)\s?|\b\d{3}[\-. ])\d{3}[\-. ]\d{4}\b`)},
	{entity: "PERSON", re: regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Miss|Dr|Prof)\.?\s+[A-Z][a-z]+(?:\s+[A-Z][a-z]+)?`)},
}

// Redactor masks personal data in text.
type Redactor struct {
	replacement string
}

// NewRedactor returns a Redactor substituting replacement for every match.
// An empty replacement uses DefaultReplacement.
func NewRedactor(replacement string) *Redactor {
	if replacement == "" {
		replacement = DefaultReplacement
	}
	return &Redactor{replacement: replacement}
}

// Redact returns text with every detected entity replaced.
func (r *Redactor) Redact(text string) string {
	return r.redact(text, nil)
}

// redact adds the number of replacements per entity to counts when it is
// not nil.
func (r *Redactor) redact(text string, counts map[string]int) string {
	for _, rl := range redactRules {
		text = rl.re.ReplaceAllStringFunc(text, func(m string) string {
			if rl.valid != nil && !rl.valid(m) {
				return m
			}
			if counts != nil {
				counts[rl.entity]++
			}
			return r.replacement
		})
	}
	return text
}

// luhn reports whether the digits in s pass the Luhn checksum.
func luhn(s string) bool {
	sum, n := 0, 0
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}
