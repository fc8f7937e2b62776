// ABOUTME: Phone number normalization for outbound message recipients
// ABOUTME: Produces the chat-id form the protocol client expects

package format

import "strings"

// chatSuffix is the protocol client's user chat-id suffix.
const chatSuffix = "@c.us"

// PhoneNumber normalizes a raw recipient into a sendable chat id:
// non-digits are stripped, a leading national "0" becomes the "62" country
// prefix, and the chat suffix is appended if missing.
func PhoneNumber(raw string) string {
	if strings.HasSuffix(raw, chatSuffix) {
		return raw
	}

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	number := digits.String()
	if strings.HasPrefix(number, "0") {
		number = "62" + number[1:]
	}

	return number + chatSuffix
}
