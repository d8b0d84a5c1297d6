package crawler

import (
	"net/url"
	"strings"
	"unicode"
)

// categories are checked in order; the first keyword hit wins. Keywords match
// whole words, and a multi-word keyword matches consecutive words. Body text
// is only searched for contentKeywords, which are too specific to show up in
// passing.
var categories = []struct {
	name            string
	keywords        []string
	contentKeywords []string
}{
	{"faq", []string{"faq", "faqs", "frequently asked"}, []string{"faq", "frequently asked questions"}},
	{"help", []string{"help", "support", "troubleshoot", "troubleshooting", "how to", "howto"}, []string{"troubleshooting"}},
	{"docs", []string{"docs", "doc", "documentation", "guide", "guides", "tutorial", "reference", "api"}, []string{"documentation", "tutorial"}},
	{"blog", []string{"blog", "news", "article", "articles", "post", "posts"}, []string{"blog"}},
	{"pricing", []string{"pricing", "plans", "price", "prices"}, []string{"pricing"}},
	{"contact", []string{"contact", "contact us"}, nil},
	{"about", []string{"about", "about us", "company", "team", "mission"}, nil},
}

// contentSample bounds how much body text takes part in categorization.
const contentSample = 2000

// Categorize guesses a page category from its URL path, then its title, then
// the start of its content. Pages that match nothing are "general".
func Categorize(pageURL, title, content string) string {
	if len(content) > contentSample {
		content = content[:contentSample]
	}

	for _, words := range [][]string{words(urlPath(pageURL)), words(title)} {
		for _, c := range categories {
			if matchAny(words, c.keywords) {
				return c.name
			}
		}
	}

	body := words(content)
	for _, c := range categories {
		if matchAny(body, c.contentKeywords) {
			return c.name
		}
	}
	return "general"
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return u.Path
}

// words lowercases s and splits it on anything that is not a letter or digit.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func matchAny(words []string, keywords []string) bool {
	for _, kw := range keywords {
		if matchPhrase(words, strings.Fields(kw)) {
			return true
		}
	}
	return false
}

func matchPhrase(words, phrase []string) bool {
	if len(phrase) == 0 {
		return false
	}
	for i := 0; i+len(phrase) <= len(words); i++ {
		match := true
		for j, p := range phrase {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
