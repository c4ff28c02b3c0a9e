package whatsapp

import "regexp"

type markupRule struct {
	pattern     *regexp.Regexp
	replacement string
}

// markupRules convert the HTML-ish inline formatting bots emit into WhatsApp
// formatting. Order matters: bold, italic, strikethrough, monospace.
var markupRules = []markupRule{
	{regexp.MustCompile(`(?is)<(?:b|strong)>(.*?)</(?:b|strong)>`), "*$1*"},
	{regexp.MustCompile(`(?is)<(?:i|em)>(.*?)</(?:i|em)>`), "_${1}_"},
	{regexp.MustCompile(`(?is)<(?:s|del|strike)>(.*?)</(?:s|del|strike)>`), "~$1~"},
	{regexp.MustCompile(`(?is)<code>(.*?)</code>`), "```$1```"},
}

// ConvertMarkup rewrites inline tags into WhatsApp markup. Text without tags
// is returned unchanged.
func ConvertMarkup(text string) string {
	for _, rule := range markupRules {
		text = rule.pattern.ReplaceAllString(text, rule.replacement)
	}
	return text
}
