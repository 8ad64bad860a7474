package langdetect

import (
	"strings"
	"sync"
	"unicode"

	lingua "github.com/pemistahl/lingua-go"
)

const (
	minLetters     = 6
	maxSampleRunes = 4000
)

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// DetectISO6391 returns the two-letter code of the text's language, or "" when
// the text is too short or the language is not recognized. Only the leading
// part of long texts is inspected.
func DetectISO6391(text string) string {
	sample := Sample(text)
	if sample == "" {
		return ""
	}

	language, exists := getDetector().DetectLanguageOf(sample)
	if !exists {
		return ""
	}

	code := strings.ToLower(language.IsoCode639_1().String())
	if len(code) != 2 {
		return ""
	}
	return code
}

// Sample trims text to the part handed to the detector. It returns "" when the
// text has fewer than six letters.
func Sample(text string) string {
	sample := strings.TrimSpace(text)
	if sample == "" {
		return ""
	}

	letterCount := 0
	runeCount := 0
	for i, r := range sample {
		if runeCount == maxSampleRunes {
			sample = strings.TrimSpace(sample[:i])
			break
		}
		runeCount++
		if unicode.IsLetter(r) {
			letterCount++
		}
	}
	if letterCount < minLetters {
		return ""
	}
	return sample
}

func getDetector() lingua.LanguageDetector {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().
			FromAllLanguages().
			WithPreloadedLanguageModels().
			Build()
	})
	return detector
}
