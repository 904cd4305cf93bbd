package family

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"strings"
)

// Device classification labels for session-list UIs. Informational only;
// these must never gate access.
const (
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
	DeviceDesktop = "desktop"
	DeviceUnknown = "unknown"

	LocationLocal    = "Local Network"
	LocationExternal = "External"
)

// parseDeviceType classifies a user-agent string. Tablet markers are checked
// before mobile ones because tablet UAs usually carry both.
func parseDeviceType(userAgent string) string {
	ua := strings.ToLower(userAgent)
	if ua == "" {
		return DeviceUnknown
	}

	for _, marker := range []string{"ipad", "tablet", "kindle", "silk"} {
		if strings.Contains(ua, marker) {
			return DeviceTablet
		}
	}
	for _, marker := range []string{"mobile", "iphone", "android", "ipod", "windows phone"} {
		if strings.Contains(ua, marker) {
			return DeviceMobile
		}
	}
	for _, marker := range []string{"windows", "macintosh", "x11", "linux", "cros"} {
		if strings.Contains(ua, marker) {
			return DeviceDesktop
		}
	}
	return DeviceUnknown
}

// parseLocation labels an IP as inside or outside the local network.
func parseLocation(ipAddress string) string {
	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return LocationExternal
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() {
		return LocationLocal
	}
	return LocationExternal
}

// deviceHash derives the display/audit fingerprint from the user agent and
// the IP's /24 (or /64 for IPv6) subnet, so a hop within the same subnet
// keeps the same fingerprint.
func deviceHash(info DeviceInfo) string {
	subnet := ipSubnet(info.IPAddress)
	sum := sha256.Sum256([]byte(info.UserAgent + "|" + subnet))
	return hex.EncodeToString(sum[:16])
}

func ipSubnet(ipAddress string) string {
	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return ""
	}
	if v4 := ip.To4(); v4 != nil {
		masked := v4.Mask(net.CIDRMask(24, 32))
		return masked.String() + "/24"
	}
	masked := ip.Mask(net.CIDRMask(64, 128))
	return masked.String() + "/64"
}
