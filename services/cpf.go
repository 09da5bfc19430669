package services

import "strings"

const (
	cpfLength = 11
	cepLength = 8
)

// DigitsOnly strips every non-ASCII-digit character from s.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// ValidateCPF reports whether s is a CPF with correct check digits.
// Formatting punctuation is ignored; anything else that is not 11 digits is
// invalid.
func ValidateCPF(s string) bool {
	cpf := DigitsOnly(s)
	if len(cpf) != cpfLength {
		return false
	}

	digits := make([]int, cpfLength)
	for i := range cpf {
		digits[i] = int(cpf[i] - '0')
	}

	if allSame(digits) {
		return false
	}

	if checkDigit(digits[:9]) != digits[9] {
		return false
	}
	return checkDigit(digits[:10]) == digits[10]
}

// checkDigit computes the mod-11 verifier over prefix with weights counting
// down from len(prefix)+1 to 2.
func checkDigit(prefix []int) int {
	sum := 0
	weight := len(prefix) + 1
	for _, d := range prefix {
		sum += d * weight
		weight--
	}
	r := 11 - sum%11
	if r >= 10 {
		return 0
	}
	return r
}

func allSame(digits []int) bool {
	for _, d := range digits[1:] {
		if d != digits[0] {
			return false
		}
	}
	return true
}

// FormatCPF masks s progressively as 000.000.000-00.
// Digits beyond the eleventh are dropped.
func FormatCPF(s string) string {
	d := DigitsOnly(s)
	if len(d) > cpfLength {
		d = d[:cpfLength]
	}

	switch {
	case len(d) <= 3:
		return d
	case len(d) <= 6:
		return d[:3] + "." + d[3:]
	case len(d) <= 9:
		return d[:3] + "." + d[3:6] + "." + d[6:]
	default:
		return d[:3] + "." + d[3:6] + "." + d[6:9] + "-" + d[9:]
	}
}

// FormatCEP masks s progressively as 00000-000.
func FormatCEP(s string) string {
	d := DigitsOnly(s)
	if len(d) > cepLength {
		d = d[:cepLength]
	}
	if len(d) <= 5 {
		return d
	}
	return d[:5] + "-" + d[5:]
}

// ValidCEP reports whether s holds exactly eight digits once punctuation is
// removed.
func ValidCEP(s string) bool {
	return len(DigitsOnly(s)) == cepLength
}
