package storage

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SanitizeEmail turns an email into a filesystem-safe token.
func SanitizeEmail(email string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(email)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	return sb.String()
}

// DesignKey builds a collision resistant key for a file uploaded for email:
// <sanitized-email>_<unix-millis>_<nonce><ext>.
func DesignKey(email, filename string, now time.Time) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return SanitizeEmail(email) + "_" + strconv.FormatInt(now.UnixMilli(), 10) + "_" + nonce + Ext(filename)
}

// Ext returns the lowercased extension of filename, or "" when it has none
// or it contains anything but letters and digits.
func Ext(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if len(ext) < 2 {
		return ""
	}
	for _, r := range ext[1:] {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return ""
		}
	}
	return ext
}

// ThumbKey returns the key of the preview image generated for key.
func ThumbKey(key string) string {
	return strings.TrimSuffix(key, filepath.Ext(key)) + "_thumb.png"
}
