package identifier

import (
	"path/filepath"
	"strings"

	"github.com/go-enry/go-enry/v2"
)

// Heuristically determine the language tag of a source file given its name and content.
//
// The tag matches the `lang` column of compilers, so the result can be used to pick a
// compiler for a submission that did not name one.
func GetLanguage(filename string, content []byte) Language {
	if tag, ok := extensionMapping[strings.ToLower(filepath.Ext(filename))]; ok {
		return tag
	}

	candidates := enry.GetLanguages(filename, content)
	for _, candidate := range candidates {
		if mapping, ok := languageMapping[candidate]; ok {
			return mapping
		}
	}

	if lang, safe := enry.GetLanguageByContent(filename, content); safe {
		if mapping, ok := languageMapping[lang]; ok {
			return mapping
		}
	}

	return LanguageInvalid
}
