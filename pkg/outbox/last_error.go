package outbox

import "unicode/utf8"

// lastError renders err for the last_error column, cut to maxBytes without
// splitting a rune.
func lastError(err error, maxBytes int) string {
	if err == nil {
		return ""
	}
	return cutUTF8(err.Error(), maxBytes)
}

func cutUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
