package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "****", MaskSecret("abc"))
	assert.Equal(t, "****5678", MaskSecret("254712345678"))
}

func TestMaskFieldsOnlyTouchesNamedKeys(t *testing.T) {
	out := MaskFields(map[string]any{
		"phone_number": "254712345678",
		"amount":       "7500",
		"attempts":     3,
	}, "phone_number")

	assert.Equal(t, "****5678", out["phone_number"])
	assert.Equal(t, "7500", out["amount"])
	assert.Equal(t, 3, out["attempts"])
	assert.Nil(t, MaskFields(nil, "phone_number"))
}
