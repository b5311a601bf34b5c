package telemetry

import "strings"

// DeviceClass buckets the playback device from its user-agent string.
type DeviceClass int

const (
	DeviceDesktop DeviceClass = iota
	DeviceMobile
	DeviceTV
)

// String returns the wire name for the device class.
func (d DeviceClass) String() string {
	switch d {
	case DeviceMobile:
		return "mobile"
	case DeviceTV:
		return "tv"
	default:
		return "desktop"
	}
}

var tvKeywords = []string{
	"smart-tv",
	"smarttv",
	"tizen",
	"webos",
	"roku",
	"appletv",
	"googletv",
	"hbbtv",
	"crkey",
}

var mobileKeywords = []string{
	"mobi",
	"android",
	"iphone",
	"ipad",
	"ipod",
	"tablet",
}

// ClassifyDevice buckets a user-agent into mobile, tv, or desktop by
// substring matching. TV keywords win over mobile ones because smart-TV
// agents often embed mobile browser tokens.
func ClassifyDevice(userAgent string) DeviceClass {
	ua := strings.ToLower(userAgent)
	for _, kw := range tvKeywords {
		if strings.Contains(ua, kw) {
			return DeviceTV
		}
	}
	for _, kw := range mobileKeywords {
		if strings.Contains(ua, kw) {
			return DeviceMobile
		}
	}
	return DeviceDesktop
}
