package stories

import (
	"crypto/md5"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	// NoTitle is stored for stories without a headline; such stories never match by title.
	NoTitle = "(no title)"

	minNormalizedTitleLength = 32
)

var (
	titleSeparators = regexp.MustCompile(`\s*[\-|:–—]+\s*`)
	titleNonWord    = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	titleSpaces     = regexp.MustCompile(`\s+`)
)

// NormalizeTitle lowercases a title, drops segments naming the medium and
// punctuation. The whole title is kept when stripping leaves too little of it.
func NormalizeTitle(title, mediumName string) string {
	full := collapseTitle(title)

	medium := collapseTitle(mediumName)
	if medium == "" {
		return full
	}

	segments := titleSeparators.Split(strings.ToLower(title), -1)
	kept := make([]string, 0, len(segments))
	for _, segment := range segments {
		normalized := collapseTitle(segment)
		if normalized == "" || normalized == medium {
			continue
		}
		kept = append(kept, normalized)
	}

	stripped := strings.Join(kept, " ")
	if len([]rune(stripped)) < minNormalizedTitleLength {
		return full
	}
	return stripped
}

// NormalizedTitleHash is the md5 of the normalized title rendered as a uuid string.
func NormalizedTitleHash(title, mediumName string) string {
	sum := md5.Sum([]byte(NormalizeTitle(title, mediumName)))
	return uuid.UUID(sum).String()
}

func collapseTitle(s string) string {
	lowered := strings.ToLower(s)
	lowered = titleNonWord.ReplaceAllString(lowered, " ")
	return strings.TrimSpace(titleSpaces.ReplaceAllString(lowered, " "))
}
