package service

import "math/rand"

// PassageService picks the target text for a new race.
type PassageService struct {
	byLanguage map[string][]string
}

// NewPassageService creates a service with the built-in corpus.
func NewPassageService() *PassageService {
	return &PassageService{byLanguage: defaultCorpus}
}

// Pick returns a passage for the language, falling back to English
// when the language has no corpus.
func (s *PassageService) Pick(language string) (string, string) {
	texts, ok := s.byLanguage[language]
	if !ok || len(texts) == 0 {
		language = "en"
		texts = s.byLanguage[language]
	}
	return texts[rand.Intn(len(texts))], language
}

var defaultCorpus = map[string][]string{
	"en": {
		"The quick brown fox jumps over the lazy dog while the farmer watches from the old wooden fence.",
		"Typing fast is a skill built one keystroke at a time, with accuracy mattering far more than raw speed.",
		"A river carves its canyon not through force but through persistence, returning to the stone every day.",
		"The lighthouse keeper climbed the spiral stairs each evening to light the lamp before the fog rolled in.",
	},
	"code": {
		"for i := 0; i < len(items); i++ { total += items[i].Price * items[i].Quantity }",
		"if err != nil { return fmt.Errorf(\"failed to open file: %w\", err) }",
		"func max(a, b int) int { if a > b { return a } return b }",
	},
}
