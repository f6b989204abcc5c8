package crypto

import "errors"

var (
	errEmptyPassphrase  = errors.New("passphrase must not be empty")
	errTooShort         = errors.New("passphrase shorter than the configured minimum length")
	errMissingLowercase = errors.New("passphrase must contain a lowercase letter")
	errMissingUppercase = errors.New("passphrase must contain an uppercase letter")
	errMissingNumber    = errors.New("passphrase must contain a digit")
	errMissingSymbol    = errors.New("passphrase must contain a symbol")
)
