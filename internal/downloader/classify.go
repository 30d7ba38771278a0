package downloader

import (
	"strings"

	"hiddenprotocol/internal/domain"
)

var restrictionMarkers = []string{
	"age-restricted",
	"age restricted",
	"confirm your age",
	"inappropriate for some users",
	"geo restricted",
	"geo-restricted",
	"not available in your country",
	"not available in your region",
	"restricted",
	"login required",
	"log in to",
}

var timeoutMarkers = []string{"timed out", "timeout", "etimedout"}

var unsupportedMarkers = []string{
	"unsupported url",
	"no suitable format",
	"requested format is not available",
	"no video formats found",
}

// Classify maps raw extractor error text to a user-facing failure category.
// Rare phrasings fall through to FailureUnknown.
func Classify(raw string) domain.FailureCategory {
	msg := strings.ToLower(raw)

	if containsAny(msg, restrictionMarkers) {
		return domain.FailureRegionOrAgeRestricted
	}
	if containsAny(msg, timeoutMarkers) && strings.Contains(msg, "instagram") {
		return domain.FailureUpstreamTimeout
	}
	if strings.Contains(msg, "404") {
		return domain.FailureNotFound
	}
	if containsAny(msg, unsupportedMarkers) {
		return domain.FailureUnsupportedFormat
	}
	return domain.FailureUnknown
}

// UserMessage returns the sentence shown to the user for category.
func UserMessage(category domain.FailureCategory) string {
	switch category {
	case domain.FailureRegionOrAgeRestricted:
		return "content unavailable due to age/region restriction"
	case domain.FailureUpstreamTimeout:
		return "could not connect to source (timeout), try again later"
	case domain.FailureNotFound:
		return "content not found or removed"
	case domain.FailureUnsupportedFormat:
		return "link format not supported"
	default:
		return "download or delivery failed, service may be unavailable"
	}
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
