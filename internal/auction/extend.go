package auction

import (
	"time"

	"bidline/internal/domain"
)

// ShouldExtend reports whether a bid landing at bidTime pushes the close out,
// and by how much. It is pure; the caller applies the extension.
func ShouldExtend(a domain.Auction, bidTime time.Time) (time.Duration, bool) {
	if !a.AutoExtend || a.ExtensionLength <= 0 {
		return 0, false
	}
	if a.ExtensionsUsed >= a.MaxExtensions {
		return 0, false
	}
	if a.EndTime.Sub(bidTime) >= a.ExtensionWindow {
		return 0, false
	}
	return a.ExtensionLength, true
}
