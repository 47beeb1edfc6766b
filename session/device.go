package session

import (
	"github.com/mileusna/useragent"
)

// DeviceName renders a short human label such as "Chrome 120.0 on Windows 10"
// from a User-Agent header.
func DeviceName(userAgent string) string {
	if userAgent == "" {
		return "Unknown Device"
	}

	ua := useragent.Parse(userAgent)

	browser := ua.Name
	if browser == "" {
		browser = "Unknown Browser"
	} else if ua.Version != "" {
		browser += " " + ua.Version
	}

	os := ua.OS
	if os == "" {
		switch {
		case ua.Bot:
			return browser + " (bot)"
		case ua.Mobile:
			os = "Mobile Device"
		case ua.Tablet:
			os = "Tablet"
		default:
			return browser
		}
	} else if ua.OSVersion != "" {
		os += " " + ua.OSVersion
	}

	return browser + " on " + os
}
