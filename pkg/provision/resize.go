package provision

import "strings"

// resizeConflictPatterns is the versioned table of provider diagnostics that
// mean "the target disk is smaller than the current disk / resize at this
// size is not supported". The table is inherently incomplete: new provider
// error text bypasses detection and the original failure propagates
// unchanged, which is the safe direction (no unmatched recovery attempts).
//
// Entries are matched case-insensitively as substrings.
var resizeConflictPatterns = []string{
	"smaller than the current disk size",
	"shrinking the disk is not supported",
	"disk can only be enlarged",
	"resize_disk is not possible",
	"invalid_size: disk",
}

// IsResizeConflict classifies an engine diagnostic as the recoverable
// resize-conflict failure that a forced server replacement fixes.
func IsResizeConflict(diagnostic string) bool {
	if diagnostic == "" {
		return false
	}
	lower := strings.ToLower(diagnostic)
	for _, pattern := range resizeConflictPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
