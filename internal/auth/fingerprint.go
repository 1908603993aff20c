package auth

import (
	"crypto/sha256"
	"fmt"
)

// DeviceFingerprint derives a stable client identifier from network origin
// and user agent. Used to match trusted devices and tag sessions.
func DeviceFingerprint(ipAddress, userAgent string) string {
	data := []byte(fmt.Sprintf("%s:%s", ipAddress, userAgent))
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)[:32]
}
