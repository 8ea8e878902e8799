package gateway

import "strings"

// defaultMinContentLength is the threshold below which a scraped page is too
// thin to be useful.
const defaultMinContentLength = 200

// errorPageMarkers are phrases that identify error or maintenance pages that
// came back with a 200 status.
var errorPageMarkers = []string{
	"404 not found",
	"page not found",
	"403 forbidden",
	"access denied",
	"under maintenance",
	"site maintenance",
	"service unavailable",
	"an error occurred",
	"temporarily unavailable",
	"this domain is for sale",
}

// IsErrorPage classifies a scraped page as unusable: upstream HTTP error,
// content shorter than the minimum, or known error-page phrasing. Unusable
// pages are distinct from transport failures; the caller should move on to
// another URL rather than retry this one.
func IsErrorPage(markdown string, statusCode, minLength int) bool {
	if statusCode >= 400 {
		return true
	}
	if minLength <= 0 {
		minLength = defaultMinContentLength
	}
	trimmed := strings.TrimSpace(markdown)
	if len(trimmed) < minLength {
		return true
	}
	// Only check the head of the page; marker phrases buried deep in a long
	// page are usually legitimate content.
	head := strings.ToLower(trimmed)
	if len(head) > 2000 {
		head = head[:2000]
	}
	for _, marker := range errorPageMarkers {
		if strings.Contains(head, marker) {
			return true
		}
	}
	return false
}
