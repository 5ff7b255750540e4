package utils

import (
	"fmt"
	"net/url"
	"sync/atomic"
)

// obfuscate controls LogURL, set once from config at start-up
var obfuscate atomic.Bool

// SetURLObfuscation turns URL masking in log lines on or off
func SetURLObfuscation(enabled bool) {
	obfuscate.Store(enabled)
}

// LogURL returns either the unmodified URL or a masked version for logging
func LogURL(raw string) string {
	return LogURLWithFlag(obfuscate.Load(), raw)
}

// LogURLWithFlag is LogURL with an explicit switch
func LogURLWithFlag(enabled bool, raw string) string {
	if enabled {
		return ObfuscateURL(raw)
	}
	return raw
}

// ObfuscateURL keeps scheme and host and masks everything that may carry a token.
//
// Example:
//
//	Input:  "http://example.com/secret/stream.mp3?token=abc"
//	Output: "http://example.com/***?***"
func ObfuscateURL(raw string) string {
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "***OBFUSCATED***"
	}

	// credentials never make it into logs
	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}
	return result
}

// FormatBytes renders a byte count with a binary unit suffix
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
