package util

import (
	"fmt"
	"regexp"
	"strings"
)

// CleanPostURL strips the query string and fragment from a post URL.
// Scraping actors reject share-tracking parameters like ?img_index=1.
func CleanPostURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)

	if idx := strings.Index(rawURL, "?"); idx != -1 {
		rawURL = rawURL[:idx]
	}
	if idx := strings.Index(rawURL, "#"); idx != -1 {
		rawURL = rawURL[:idx]
	}

	return rawURL
}

// NormaliseTweetURL cleans a tweet URL and canonicalises x.com to
// twitter.com so both domains submit identically.
func NormaliseTweetURL(rawURL string) (string, error) {
	cleaned := CleanPostURL(rawURL)

	if !strings.Contains(cleaned, "twitter.com") && !strings.Contains(cleaned, "x.com") {
		return "", fmt.Errorf("not a twitter/x URL: %s", rawURL)
	}

	return strings.Replace(cleaned, "x.com", "twitter.com", 1), nil
}

var tweetIDPattern = regexp.MustCompile(`/status/(\d+)`)

// ExtractTweetID pulls the numeric status ID out of a tweet URL.
func ExtractTweetID(rawURL string) (string, error) {
	match := tweetIDPattern.FindStringSubmatch(rawURL)
	if match == nil {
		return "", fmt.Errorf("no tweet ID in URL: %s", rawURL)
	}
	return match[1], nil
}

// YouTube serves the same video under several URL shapes; all of them carry
// an 11-character video ID.
var youTubeIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/)([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/v/([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/watch\?.*v=([A-Za-z0-9_-]{11})`),
	regexp.MustCompile(`youtube\.com/shorts/([A-Za-z0-9_-]{11})`),
}

// ExtractYouTubeVideoID pulls the video ID out of any supported YouTube URL
// format (watch, short link, embed, shorts).
func ExtractYouTubeVideoID(rawURL string) (string, error) {
	for _, pattern := range youTubeIDPatterns {
		if match := pattern.FindStringSubmatch(rawURL); match != nil {
			return match[1], nil
		}
	}
	return "", fmt.Errorf("no video ID in URL: %s", rawURL)
}
