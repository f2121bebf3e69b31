package modem

import (
	"fmt"
	"strings"
)

// dialChars are the characters allowed in phone numbers and USSD codes.
// Anything else could end the command early and start a new one.
const dialChars = "+0123456789*#"

func checkDialString(name, s string) error {
	if s == "" {
		return fmt.Errorf("%s: %w", name, ErrInvalidArgument)
	}
	if i := strings.IndexFunc(s, func(r rune) bool { return !strings.ContainsRune(dialChars, r) }); i >= 0 {
		return fmt.Errorf("%s: character %q at %d: %w", name, s[i], i, ErrInvalidArgument)
	}
	return nil
}

func checkPIN(pin string) error {
	if pin == "" || strings.Trim(pin, "0123456789") != "" {
		return fmt.Errorf("pin: %w", ErrInvalidArgument)
	}
	return nil
}

// checkBody rejects the characters that submit or abort a message in text
// mode, so a body cannot cut its own send short.
func checkBody(message string) error {
	if strings.ContainsAny(message, "\x1a\x1b") {
		return fmt.Errorf("message: control character: %w", ErrInvalidArgument)
	}
	return nil
}
