package crawler

import (
	"fmt"
	"strings"
)

// Selectors are the CSS selectors that describe the listing markup.
type Selectors struct {
	Ready     string `mapstructure:"ready"`
	Container string `mapstructure:"container"`
	Text      string `mapstructure:"text"`
	Author    string `mapstructure:"author"`
	Tags      string `mapstructure:"tags"`
	Next      string `mapstructure:"next"`
}

// DefaultSelectors returns selectors for the quotes listing layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Ready:     ".quote",
		Container: "div.quote",
		Text:      "span.text",
		Author:    "small.author",
		Tags:      "a.tag",
		Next:      "li.next",
	}
}

// Validate checks that every selector is set.
func (s Selectors) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"selectors.ready", s.Ready},
		{"selectors.container", s.Container},
		{"selectors.text", s.Text},
		{"selectors.author", s.Author},
		{"selectors.tags", s.Tags},
		{"selectors.next", s.Next},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%s must be set", f.name)
		}
	}
	return nil
}
