package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasscodeLength is the number of digits in a login passcode.
const PasscodeLength = 6

// passcodeCost is a var so tests can lower it.
var passcodeCost = bcrypt.DefaultCost

// GeneratePasscode returns a uniformly random numeric code of PasscodeLength
// digits, leading zeros included.
func GeneratePasscode() (string, error) {
	var b strings.Builder
	b.Grow(PasscodeLength)
	for i := 0; i < PasscodeLength; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", fmt.Errorf("generate passcode: %w", err)
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

// HashPasscode returns the bcrypt hash stored in place of the code.
func HashPasscode(code string) (string, error) {
	if !ValidPasscodeFormat(code) {
		return "", errors.New("passcode must be 6 digits")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), passcodeCost)
	if err != nil {
		return "", fmt.Errorf("hash passcode: %w", err)
	}
	return string(hash), nil
}

// CheckPasscode reports whether code matches hash.
func CheckPasscode(code, hash string) bool {
	if !ValidPasscodeFormat(code) || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(code)) == nil
}

// ValidPasscodeFormat reports whether code is exactly PasscodeLength ASCII digits.
func ValidPasscodeFormat(code string) bool {
	if len(code) != PasscodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}
