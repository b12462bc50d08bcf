package utils

import (
	"regexp"
	"strings"
)

var (
	phoneRegex = regexp.MustCompile(`^\+?[0-9]{8,15}$`)
	otpRegex   = regexp.MustCompile(`^[0-9]{4,8}$`)
)

// SanitizePhone strips spaces, dashes, dots and parentheses
func SanitizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// ValidatePhone validates an already sanitized phone number
func ValidatePhone(phone string) bool {
	return phoneRegex.MatchString(phone)
}

// ValidateOTP validates a one-time code. An empty code is valid (OTP is optional).
func ValidateOTP(otp string) bool {
	return otp == "" || otpRegex.MatchString(otp)
}
