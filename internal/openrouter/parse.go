package openrouter

import (
	"strings"

	"github.com/akarwowska/altgen/internal/domain"
)

// TagParser extracts the two tagged lines the model is prompted to emit.
// The default tags match the Polish-locale prompt ("Nazwa" = name).
type TagParser struct {
	AltTag      string
	FilenameTag string
}

func NewTagParser() TagParser {
	return TagParser{
		AltTag:      "Alt:",
		FilenameTag: "Nazwa:",
	}
}

var imageExtensions = []string{".jpeg", ".jpg", ".png", ".webp", ".gif", ".avif"}

// Parse pulls the alt text and filename suggestion out of a raw completion.
// A missing tag leaves its field nil; when neither tag is present the
// completion violated the output contract and an error is returned instead
// of a silently empty suggestion.
func (p TagParser) Parse(content string) (domain.Suggestion, error) {
	var suggestion domain.Suggestion

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case suggestion.Alt == nil && strings.HasPrefix(line, p.AltTag):
			v := strings.TrimSpace(strings.TrimPrefix(line, p.AltTag))
			suggestion.Alt = &v
		case suggestion.Filename == nil && strings.HasPrefix(line, p.FilenameTag):
			v := stripImageExtension(strings.TrimSpace(strings.TrimPrefix(line, p.FilenameTag)))
			suggestion.Filename = &v
		}
	}

	if suggestion.Alt == nil && suggestion.Filename == nil {
		return domain.Suggestion{}, domain.NewParseError("completion contains neither tagged line")
	}
	return suggestion, nil
}

func stripImageExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
