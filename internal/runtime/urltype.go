package runtime

import "strings"

// URLType identifies the type of URL being requested.
type URLType int

const (
	URLTypeUnknown  URLType = iota // Unrecognized URL pattern (fallback bucket)
	URLTypeManifest                // .m3u8 playlist
	URLTypeSegment                 // .ts segment
	URLTypeInit                    // .mp4/.m4s init segment (fMP4)
)

// String returns a human-readable name for the URL type.
func (t URLType) String() string {
	switch t {
	case URLTypeManifest:
		return "manifest"
	case URLTypeSegment:
		return "segment"
	case URLTypeInit:
		return "init"
	default:
		return "unknown"
	}
}

// ClassifyURL determines the type of URL based on file extension.
//
// Handles both plain URLs and URLs with query strings. Returns
// URLTypeUnknown for unrecognized patterns (fallback bucket).
func ClassifyURL(url string) URLType {
	lower := strings.ToLower(url)

	// Check for query strings - extract path before '?'
	path := lower
	if idx := strings.Index(lower, "?"); idx > 0 {
		path = lower[:idx]
	}

	if strings.HasSuffix(path, ".m3u8") {
		return URLTypeManifest
	}
	if strings.HasSuffix(path, ".ts") {
		return URLTypeSegment
	}
	if strings.HasSuffix(path, ".mp4") || strings.HasSuffix(path, ".m4s") {
		return URLTypeInit
	}

	return URLTypeUnknown
}

// IsManifestURL reports whether the URL names a segmented-manifest
// playlist. Used by the engine's format detection.
func IsManifestURL(url string) bool {
	return ClassifyURL(url) == URLTypeManifest
}
