package email

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

var addressValidator = validator.New()

// NormalizeAddress trims surrounding whitespace and lowercases the domain.
// The local part is left as-is since providers may treat it case-sensitively.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	at := strings.LastIndexByte(address, '@')
	if at < 0 {
		return address
	}
	return address[:at+1] + strings.ToLower(address[at+1:])
}

// IsDeliverable reports whether address is a syntactically valid mailbox.
func IsDeliverable(address string) bool {
	if address == "" {
		return false
	}
	return addressValidator.Var(address, "required,email") == nil
}

// RedactEmail masks an address for logging: "john@gmail.com" becomes
// "j***@gmail.com". Input without "@" is masked entirely.
func RedactEmail(address string) string {
	if address == "" {
		return ""
	}

	local, domain, ok := strings.Cut(address, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}

	first := []rune(local)[0]
	return string(first) + "***@" + domain
}
