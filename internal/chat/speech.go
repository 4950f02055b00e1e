package chat

import (
	"regexp"
	"strings"
)

var (
	emphasisMarkers = regexp.MustCompile("[*_`~]+")
	headingMarkers  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletGlyphs    = regexp.MustCompile(`(?m)^\s*([-*+•]|\d+\.)\s+`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
)

// SpeechText prepares assistant markdown for the synthesizer: emphasis
// markers, heading hashes, and bullet glyphs are stripped and newlines
// collapse to spaces, so none of the syntax is read aloud.
func SpeechText(s string) string {
	s = headingMarkers.ReplaceAllString(s, "")
	s = bulletGlyphs.ReplaceAllString(s, "")
	s = emphasisMarkers.ReplaceAllString(s, "")
	s = whitespaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
