package checksum

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/authdoc/internal/verification"
)

func TestValidateFixtures(t *testing.T) {
	tests := []struct {
		name     string
		identity string
		want     bool
	}{
		{"valid identity", "234123412346", true},
		{"valid identity with trailing nines", "999999990019", true},
		{"valid identity ending in five", "799273987135", true},
		{"last digit altered", "799273987130", false},
		{"sequential digits", "123456789012", false},
		{"all zeros", "000000000000", false},
		{"adjacent transposition", "324123412346", false},
		{"too short", "2363", false},
		{"too long", "2341234123460", false},
		{"letters", "23412341234a", false},
		{"spaces", "2341 3412346", false},
		{"empty", "", false},
		{"unicode digits", "２３４１２３４１２３４６", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Validate(tt.identity))
		})
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	for i := 0; i < 1000; i++ {
		id := fmt.Sprintf("%011d7", i)
		first := Validate(id)
		for j := 0; j < 3; j++ {
			require.Equal(t, first, Validate(id), id)
		}
	}
}

func TestCheckDigitCompletesPayload(t *testing.T) {
	req := require.New(t)
	for _, payload := range []string{"23412341234", "79927398713", "99999999001", "00000000000", "236"} {
		digit, err := CheckDigit(payload)
		req.NoError(err)
		full := payload + string(digit)
		if len(full) == IdentityLength {
			req.True(Validate(full), full)
		}
		req.Zero(accumulate(full, 0), full)
	}

	_, err := CheckDigit("12a")
	req.ErrorIs(err, ErrInvalidPayload)
	_, err = CheckDigit("")
	req.ErrorIs(err, ErrInvalidPayload)
}

func TestScoreIsBinary(t *testing.T) {
	require.Equal(t, 1.0, Score("234123412346"))
	require.Equal(t, 0.0, Score("234123412347"))
	require.Equal(t, verification.FailClosed, InvalidDisposition.Mode)
}
