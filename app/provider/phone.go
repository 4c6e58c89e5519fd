package provider

import (
	"strings"

	"github.com/vibast-solutions/ms-go-isp-billing/app/types"
)

const subscriberDigits = 9

// NormalizePhoneNumber converts local (0...), prefixed (+254...) and bare
// international (254...) numbers to the bare international form.
func NormalizePhoneNumber(raw, countryCode string) (string, error) {
	phone := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(phone, "+"):
		phone = phone[1:]
	case strings.HasPrefix(phone, "0"):
		phone = countryCode + phone[1:]
	}

	if phone == "" {
		return "", types.NewValidationError("phone_number", "is required")
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", types.NewValidationError("phone_number", "must contain digits only")
		}
	}
	if !strings.HasPrefix(phone, countryCode) || len(phone) != len(countryCode)+subscriberDigits {
		return "", types.NewValidationError("phone_number", "must be a valid "+countryCode+" mobile number")
	}

	return phone, nil
}
