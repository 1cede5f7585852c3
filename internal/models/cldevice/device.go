// Package cldevice classe un user-agent (navigateur, OS, type d'appareil).
package cldevice

import (
	"strings"

	"github.com/mssola/useragent"
)

const (
	Unknown = "Unknown"

	Mobile  = "mobile"
	Tablet  = "tablet"
	Desktop = "desktop"
)

// seuils de largeur d'écran quand le user-agent ne dit rien
const (
	mobileMaxWidth = 768
	tabletMaxWidth = 1024
)

var (
	tabletKeywords = []string{"ipad", "tablet", "kindle", "silk", "playbook", "nexus 7", "nexus 10"}
	mobileKeywords = []string{"mobi", "iphone", "ipod", "android", "blackberry", "opera mini", "iemobile", "windows phone", "webos"}
)

type Info struct {
	Browser        string `json:"browser"`
	BrowserVersion string `json:"browserVersion"`
	OS             string `json:"os"`
	OSVersion      string `json:"osVersion"`
}

// Parse ne retourne jamais d'erreur : ce qui n'est pas reconnu vaut Unknown
func Parse(raw string) Info {
	info := Info{Browser: Unknown, BrowserVersion: Unknown, OS: Unknown, OSVersion: Unknown}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return info
	}

	ua := useragent.New(raw)
	if name, version := ua.Browser(); name != "" {
		info.Browser = name
		if version != "" {
			info.BrowserVersion = version
		}
	}

	osInfo := ua.OSInfo()
	if osInfo.Name != "" {
		info.OS = osInfo.Name
		if osInfo.Version != "" {
			info.OSVersion = osInfo.Version
		}
	}

	return info
}

// DeviceType : le user-agent prime sur la largeur d'écran
func DeviceType(raw string, screenWidth int) string {
	lower := strings.ToLower(raw)

	if containsAny(lower, tabletKeywords) {
		return Tablet
	}
	// Android sans "mobile" = tablette
	if strings.Contains(lower, "android") && !strings.Contains(lower, "mobile") {
		return Tablet
	}
	if containsAny(lower, mobileKeywords) {
		return Mobile
	}

	switch {
	case screenWidth <= 0:
		return Desktop
	case screenWidth < mobileMaxWidth:
		return Mobile
	case screenWidth < tabletMaxWidth:
		return Tablet
	default:
		return Desktop
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
