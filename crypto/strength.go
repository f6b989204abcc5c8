package crypto

import "math"

// StrengthReport is the result of the pure-function passphrase
// strength analyser of spec §4.5.
type StrengthReport struct {
	Score           int
	Issues          []string
	Recommendations []string
}

// AnalyzeStrength scores a passphrase 0-100 following spec §4.5's
// rubric exactly.
func AnalyzeStrength(passphrase string) StrengthReport {
	var score int
	var issues []string
	var recs []string

	length := len([]rune(passphrase))

	switch {
	case length >= 20:
		score += 30
	case length >= 12:
		score += 20
	default:
		issues = append(issues, "Too short")
		recs = append(recs, "Use at least 12 characters")
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range passphrase {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if hasLower {
		score += 10
	} else {
		recs = append(recs, "Add a lowercase letter")
	}
	if hasUpper {
		score += 10
	} else {
		recs = append(recs, "Add an uppercase letter")
	}
	if hasDigit {
		score += 10
	} else {
		recs = append(recs, "Add a digit")
	}
	if hasSymbol {
		score += 15
	} else {
		recs = append(recs, "Add a symbol")
	}

	if hasCharacterRun(passphrase, 3) {
		score -= 10
		issues = append(issues, "Contains a repeated character run")
		recs = append(recs, "Avoid repeating the same character three or more times in a row")
	}

	charsetSize := charsetSize(hasLower, hasUpper, hasDigit, hasSymbol)
	entropy := 0.0
	if charsetSize > 0 && length > 0 {
		entropy = math.Log2(float64(charsetSize)) * float64(length)
	}
	switch {
	case entropy >= 80:
		score += 25
	case entropy >= 40:
		score += 15
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return StrengthReport{Score: score, Issues: issues, Recommendations: recs}
}

func hasCharacterRun(s string, runLength int) bool {
	runes := []rune(s)
	if len(runes) < runLength {
		return false
	}
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run >= runLength {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

func charsetSize(lower, upper, digit, symbol bool) int {
	size := 0
	if lower {
		size += 26
	}
	if upper {
		size += 26
	}
	if digit {
		size += 10
	}
	if symbol {
		size += 33
	}
	return size
}

// PasswordPolicy is the hard gate applied before a passphrase is
// accepted at all — the numeric StrengthReport above is advisory,
// this is pass/fail. Mirrors the shape of dracory/vaultstore's
// NewStoreOptions password-policy fields (PasswordMinLength,
// PasswordRequireUppercase, ...), generalised from token-vault
// passwords to this store's vault passphrases.
type PasswordPolicy struct {
	AllowEmpty       bool
	MinLength        int
	RequireLowercase bool
	RequireUppercase bool
	RequireNumbers   bool
	RequireSymbols   bool
}

// DefaultPasswordPolicy mirrors teacher's documented defaults
// (min length 16, no empty passwords, no character-class requirement).
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: 16}
}

// Check validates passphrase against policy, returning the first
// violation found or nil.
func (p PasswordPolicy) Check(passphrase string) error {
	if passphrase == "" {
		if p.AllowEmpty {
			return nil
		}
		return errEmptyPassphrase
	}
	if len([]rune(passphrase)) < p.MinLength {
		return errTooShort
	}

	var hasLower, hasUpper, hasDigit, hasSymbol bool
	for _, r := range passphrase {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	if p.RequireLowercase && !hasLower {
		return errMissingLowercase
	}
	if p.RequireUppercase && !hasUpper {
		return errMissingUppercase
	}
	if p.RequireNumbers && !hasDigit {
		return errMissingNumber
	}
	if p.RequireSymbols && !hasSymbol {
		return errMissingSymbol
	}
	return nil
}
