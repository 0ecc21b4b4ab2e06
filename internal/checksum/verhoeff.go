// Package checksum validates numeric identity strings with the Verhoeff algorithm.
package checksum

import (
	"errors"
	"strings"

	"github.com/example/authdoc/internal/verification"
)

// IdentityLength is the number of digits of a canonical identity string.
const IdentityLength = 12

// ErrInvalidPayload is returned by CheckDigit for empty or non-numeric input.
var ErrInvalidPayload = errors.New("checksum: payload must be a non-empty digit string")

// InvalidDisposition is the score reported for an identity that fails validation.
var InvalidDisposition = verification.Closed(0)

var multiplication = [10][10]uint8{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 2, 3, 4, 0, 6, 7, 8, 9, 5},
	{2, 3, 4, 0, 1, 7, 8, 9, 5, 6},
	{3, 4, 0, 1, 2, 8, 9, 5, 6, 7},
	{4, 0, 1, 2, 3, 9, 5, 6, 7, 8},
	{5, 9, 8, 7, 6, 0, 4, 3, 2, 1},
	{6, 5, 9, 8, 7, 1, 0, 4, 3, 2},
	{7, 6, 5, 9, 8, 2, 1, 0, 4, 3},
	{8, 7, 6, 5, 9, 3, 2, 1, 0, 4},
	{9, 8, 7, 6, 5, 4, 3, 2, 1, 0},
}

var permutation = [8][10]uint8{
	{0, 1, 2, 3, 4, 5, 6, 7, 8, 9},
	{1, 5, 7, 6, 2, 8, 3, 0, 9, 4},
	{5, 8, 0, 3, 7, 9, 6, 1, 4, 2},
	{8, 9, 1, 6, 0, 4, 3, 5, 2, 7},
	{9, 4, 5, 3, 1, 2, 6, 8, 7, 0},
	{4, 2, 8, 6, 5, 7, 3, 9, 0, 1},
	{2, 7, 9, 3, 8, 0, 6, 4, 1, 5},
	{7, 0, 4, 6, 9, 1, 3, 2, 5, 8},
}

var inverse = [10]uint8{0, 4, 3, 2, 1, 5, 6, 7, 8, 9}

// Validate reports whether identity is exactly IdentityLength digits with a valid
// Verhoeff check digit. It never panics.
func Validate(identity string) bool {
	if len(identity) != IdentityLength || !isDigits(identity) {
		return false
	}
	return accumulate(identity, 0) == 0
}

// Score maps Validate onto the metric scale: 1.0 when valid, 0.0 otherwise.
func Score(identity string) float64 {
	if Validate(identity) {
		return 1
	}
	return InvalidDisposition.Default
}

// CheckDigit returns the digit that makes payload+digit Verhoeff-valid.
func CheckDigit(payload string) (byte, error) {
	payload = strings.TrimSpace(payload)
	if payload == "" || !isDigits(payload) {
		return 0, ErrInvalidPayload
	}
	return '0' + inverse[accumulate(payload, 1)], nil
}

// accumulate walks digits from the least significant; offset shifts the permutation
// row so the same loop can compute a check digit for a payload without one.
func accumulate(digits string, offset int) uint8 {
	var c uint8
	for i := 0; i < len(digits); i++ {
		d := digits[len(digits)-1-i] - '0'
		c = multiplication[c][permutation[(i+offset)%8][d]]
	}
	return c
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
