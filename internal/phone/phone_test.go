package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tt := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "canonical", input: "+254712345678", want: "+254712345678"},
		{name: "without plus", input: "254712345678", want: "+254712345678"},
		{name: "national", input: "0712345678", want: "+254712345678"},
		{name: "bare", input: "712345678", want: "+254712345678"},
		{name: "spaces", input: "+254 712 345 678", want: "+254712345678"},
		{name: "dashes", input: "0712-345-678", want: "+254712345678"},
		{name: "parens", input: "(0712) 345678", want: "+254712345678"},
		{name: "trunk zero after country code", input: "+254 0712 345 678", want: "+254712345678"},
		{name: "trunk zero without plus", input: "2540712345678", want: "+254712345678"},
		{name: "landline", input: "0202345678", wantErr: true},
		{name: "landline after country code", input: "+2540202345678", wantErr: true},
		{name: "double trunk zero", input: "+25400712345678", wantErr: true},
		{name: "too short", input: "071234567", wantErr: true},
		{name: "too long", input: "+2547123456789", wantErr: true},
		{name: "letters", input: "07123abc78", wantErr: true},
		{name: "foreign", input: "+447912345678", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.input)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidPhone)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestKeyMatchesAcrossFormats(t *testing.T) {
	formats := []string{"+254700000001", "254700000001", "0700000001", "0700 000 001", "700000001"}
	for _, f := range formats {
		key, err := Key(f)
		require.NoError(t, err, f)
		assert.Equal(t, "700000001", key, f)
	}
	assert.False(t, Valid("+254800000001"))
}
