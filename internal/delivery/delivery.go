// Package delivery classifies how a fetched resource was delivered.
//
// This file implements the delivery-path classifier: given the response
// metadata of a single fetch (headers plus transfer sizes), decide whether
// the bytes came from the origin server, a CDN edge cache, or the local
// disk cache.
//
// The classification is heuristic. Header conventions differ per CDN
// vendor, so a known set of cache-status header names is consulted in
// order, then the Age header, then transfer-size heuristics. When no
// signal is available the classifier reports SourceUnknown rather than
// guessing.
package delivery

import (
	"net/http"
	"strconv"
	"strings"
)

// Source identifies the inferred network path a resource traveled.
type Source int

const (
	SourceUnknown   Source = iota // No classification signal available
	SourceOrigin                  // Served by the origin server
	SourceEdgeCache               // Served by a shared/CDN edge cache
	SourceDiskCache               // Served from the local disk cache (no network bytes)
)

// String returns the wire name for the source, as reported in telemetry.
func (s Source) String() string {
	switch s {
	case SourceOrigin:
		return "origin"
	case SourceEdgeCache:
		return "edge_cache"
	case SourceDiskCache:
		return "disk_cache"
	default:
		return "unknown"
	}
}

// ResponseMeta holds the network-layer observations for one fetched
// resource. TransferSize is bytes moved over the network (including
// headers), EncodedBodySize the compressed payload, DecodedBodySize the
// payload after content decoding. Sizes of zero mean "not observed"
// except TransferSize, where zero with a positive DecodedBodySize means
// the resource never touched the network.
type ResponseMeta struct {
	Header          http.Header
	TransferSize    int64
	EncodedBodySize int64
	DecodedBodySize int64
	NextHopProtocol string
}

// cacheStatusHeaders are the cache-status header names consulted, in
// order. First header present wins, regardless of what it says.
var cacheStatusHeaders = []string{
	"Cf-Cache-Status", // Cloudflare
	"X-Cache",         // CloudFront, Fastly, Akamai, Varnish
	"X-Cache-Status",  // nginx proxy_cache
	"X-Vercel-Cache",  // Vercel
	"X-Cache-Lookup",  // Squid / Tencent CDN
}

// edgeTokens mark a cache-status value as served by the edge cache.
// Stale and revalidated responses still came out of shared-cache storage.
var edgeTokens = []string{"hit", "stale", "updating", "revalidated"}

// originTokens mark a cache-status value as served by the origin.
var originTokens = []string{"miss", "bypass", "dynamic", "expired"}

// Classify infers the delivery source for one fetched resource.
//
// Precedence (order matters, preserved exactly):
//  1. A known cache-status header whose value indicates hit/staleness
//     (edge) or miss/bypass/dynamic (origin).
//  2. Age header greater than zero: positive age implies the response
//     sat in a shared cache.
//  3. Transfer-size heuristics: zero transfer with a positive decoded
//     size means disk cache; a transfer size within 5% of the encoded
//     body size means the bytes came straight off an edge cache.
//  4. Otherwise SourceUnknown.
//
// Classify never fails; absent or malformed signals degrade to the next
// rule.
func Classify(meta ResponseMeta) Source {
	if src, ok := classifyByHeader(meta.Header); ok {
		return src
	}
	if src, ok := classifyByAge(meta.Header); ok {
		return src
	}
	return classifyBySize(meta)
}

// classifyByHeader checks the known cache-status headers in order.
func classifyByHeader(h http.Header) (Source, bool) {
	if h == nil {
		return SourceUnknown, false
	}
	for _, name := range cacheStatusHeaders {
		value := h.Get(name)
		if value == "" {
			continue
		}
		lower := strings.ToLower(value)
		for _, token := range edgeTokens {
			if strings.Contains(lower, token) {
				return SourceEdgeCache, true
			}
		}
		for _, token := range originTokens {
			if strings.Contains(lower, token) {
				return SourceOrigin, true
			}
		}
		// Header present but value unrecognized - fall through to the
		// next signal rather than guessing from an unknown vendor value.
	}
	return SourceUnknown, false
}

// classifyByAge applies the Age-header heuristic: a positive age means
// the response spent time in a shared cache.
func classifyByAge(h http.Header) (Source, bool) {
	if h == nil {
		return SourceUnknown, false
	}
	raw := h.Get("Age")
	if raw == "" {
		return SourceUnknown, false
	}
	age, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || age <= 0 {
		return SourceUnknown, false
	}
	return SourceEdgeCache, true
}

// classifyBySize falls back to transfer-size heuristics.
func classifyBySize(meta ResponseMeta) Source {
	if meta.TransferSize == 0 && meta.DecodedBodySize > 0 {
		// No network bytes moved but content arrived: local disk cache.
		return SourceDiskCache
	}
	if meta.TransferSize > 0 && meta.EncodedBodySize > 0 {
		// Transfer close to the encoded body (within 5%) means no
		// origin round trip inflated the response.
		ratio := float64(meta.TransferSize) / float64(meta.EncodedBodySize)
		if ratio >= 0.95 && ratio <= 1.05 {
			return SourceEdgeCache
		}
		return SourceOrigin
	}
	return SourceUnknown
}
