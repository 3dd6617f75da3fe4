package corpus

import "strings"

// Language is a supported language code, e.g. "hawrami".
type Language string

const (
	SouthernKurdish Language = "southern_kurdish"
	LakiKurdish     Language = "laki_kurdish"
	Hawrami         Language = "hawrami"
	Gilaki          Language = "gilaki"
	Zazaki          Language = "zazaki"
	Talysh          Language = "talysh"
	Mazanderani     Language = "mazanderani"
	LuriBakhtiari   Language = "luri_bakhtiari"
)

// Supported is the closed set of languages, in keyboard order.
var Supported = []Language{
	Hawrami,
	SouthernKurdish,
	LakiKurdish,
	Gilaki,
	Zazaki,
	Talysh,
	Mazanderani,
	LuriBakhtiari,
}

// ParseLanguage reports whether code names a supported language.
func ParseLanguage(code string) (Language, bool) {
	code = strings.ToLower(strings.TrimSpace(code))
	for _, l := range Supported {
		if string(l) == code {
			return l, true
		}
	}
	return "", false
}

// DisplayName turns "luri_bakhtiari" into "Luri Bakhtiari".
func (l Language) DisplayName() string {
	parts := strings.Split(string(l), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
