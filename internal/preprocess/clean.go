package preprocess

import (
	"regexp"
	"strings"
)

// Patterns applied by CleanText, in order. Those with (?s) drop everything
// from the match to the end of the text; the others only to end of line.
var cleanPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)-----Original Message-----.*`),
	regexp.MustCompile(`From:.*`),
	regexp.MustCompile(`To:.*`),
	regexp.MustCompile(`Sent:.*`),
	regexp.MustCompile(`Subject:.*`),
	regexp.MustCompile(`>.*`),
	regexp.MustCompile(`(?is)Sincerely.*`),
	regexp.MustCompile(`(?is)Best regards.*`),
	regexp.MustCompile(`(?is)Confidentiality Notice.*`),
}

// CleanText strips reply chains, forwarded headers, quoted lines and
// signature boilerplate from an email body, then removes blank lines and
// surrounding whitespace.
func CleanText(text string) string {
	for _, re := range cleanPatterns {
		text = re.ReplaceAllString(text, "")
	}

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
