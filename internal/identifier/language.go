package identifier

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

type Language string

const (
	LanguageC      Language = "c"
	LanguageCPP    Language = "cpp"
	LanguagePascal Language = "pas"
	LanguagePython Language = "py"
	LanguageJava   Language = "java"
	// Returned when the language could not be determined
	LanguageInvalid Language = ""
)

var known = []Language{LanguageC, LanguageCPP, LanguagePascal, LanguagePython, LanguageJava}

func toLanguage(v string) (Language, error) {
	want := Language(strings.ToLower(strings.TrimPrefix(v, ".")))
	if slices.Contains(known, want) {
		return want, nil
	}

	names := make([]string, len(known))
	for i, l := range known {
		names[i] = strconv.Quote(string(l))
	}
	return LanguageInvalid, fmt.Errorf("must be one of %s", strings.Join(names, ", "))
}

func (l Language) String() string {
	return string(l)
}

// Allow use as a cobra flag

func (l *Language) Set(v string) error {
	vLanguage, err := toLanguage(v)
	if err != nil {
		return err
	}

	*l = vLanguage
	return nil
}

func (*Language) Type() string {
	return "Language"
}

type LanguageSlice []Language

func (l *LanguageSlice) String() string {
	names := make([]string, len(*l))
	for i, lang := range *l {
		names[i] = string(lang)
	}
	return "[" + strings.Join(names, ",") + "]"
}

func (l *LanguageSlice) Set(v string) error {
	vLanguage, err := toLanguage(v)
	if err != nil {
		return err
	}

	*l = append(*l, vLanguage)
	return nil
}

func (*LanguageSlice) Type() string {
	return "LanguageSlice"
}

// unambiguous extensions, checked before asking go-enry
var extensionMapping = map[string]Language{
	".c":    LanguageC,
	".cpp":  LanguageCPP,
	".cc":   LanguageCPP,
	".cxx":  LanguageCPP,
	".pas":  LanguagePascal,
	".dpr":  LanguagePascal,
	".py":   LanguagePython,
	".java": LanguageJava,
}

// go-enry to compiler language tag mappings
var languageMapping = map[string]Language{
	"C":      LanguageC,
	"C++":    LanguageCPP,
	"Pascal": LanguagePascal,
	"Python": LanguagePython,
	"Java":   LanguageJava,
}
