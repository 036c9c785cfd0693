package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactor_MasksAPIKey(t *testing.T) {
	r := NewRedactor()
	out := r.Redact(`api_key: "sk-abcdefghijklmnopqrstuvwxyz"`)
	assert.Contains(t, out, "[MASKED_API_KEY]")
	assert.NotContains(t, out, "sk-abcdefghijklmnopqrstuvwxyz")
}

func TestRedactor_MasksCertificateBlock(t *testing.T) {
	r := NewRedactor()
	cert := "-----BEGIN CERTIFICATE-----\nMIIB...\n-----END CERTIFICATE-----"
	out := r.Redact(cert)
	assert.Equal(t, "[MASKED_CERTIFICATE]", out)
}

func TestRedactor_LeavesOrdinaryTextUntouched(t *testing.T) {
	r := NewRedactor()
	out := r.Redact("ran the build, all tests passed")
	assert.Equal(t, "ran the build, all tests passed", out)
}

func TestRedactor_RedactDetailsOnlyTouchesStrings(t *testing.T) {
	r := NewRedactor()
	details := map[string]any{
		"note":  `token: "abcdefghijklmnopqrstuvwxyz123456"`,
		"count": 3,
	}
	out := r.RedactDetails(details)
	assert.Contains(t, out["note"], "[MASKED_TOKEN]")
	assert.Equal(t, 3, out["count"])
}

func TestRedactor_NilRedactorIsNoOp(t *testing.T) {
	var r *Redactor
	assert.Equal(t, "secret", r.Redact("secret"))
	assert.Nil(t, r.RedactDetails(nil))
}
