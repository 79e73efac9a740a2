package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestRedactPII(t *testing.T) {
	cases := []struct {
		name string
		in   string
		gone []string
		keep []string
	}{
		{
			name: "email",
			in:   "Escríbeme a maria.lopez@example.com para más detalles",
			gone: []string{"maria.lopez@example.com"},
			keep: []string{"Escríbeme", "[email oculto]"},
		},
		{
			name: "spanish mobile",
			in:   "Mi teléfono es 612 345 678, llamar por la tarde",
			gone: []string{"612 345 678"},
			keep: []string{"[teléfono oculto]", "llamar por la tarde"},
		},
		{
			name: "international phone",
			in:   "contacto +34 912 345 678 fijo",
			gone: []string{"912 345 678"},
			keep: []string{"[teléfono oculto]"},
		},
		{
			name: "dni",
			in:   "Mi DNI es 12345678Z y el NIE de mi pareja X1234567L",
			gone: []string{"12345678Z", "X1234567L"},
			keep: []string{"[documento oculto]"},
		},
		{
			name: "clean text untouched",
			in:   "Despido tras 3 años en la empresa, contrato de 40 horas",
			keep: []string{"Despido tras 3 años en la empresa, contrato de 40 horas"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := RedactPII(tc.in)
			for _, s := range tc.gone {
				assert.NotContains(t, got, s)
			}
			for _, s := range tc.keep {
				assert.Contains(t, got, s)
			}
		})
	}
}

func TestRedactPII_Empty(t *testing.T) {
	assert.Equal(t, "", RedactPII(""))
}

func TestSummary_MultibyteSafe(t *testing.T) {
	// No space inside the window forces a hard cut; it must land on a
	// rune boundary, not a byte offset.
	long := strings.Repeat("ñ", 60)
	got := Summary(long, 40)
	assert.True(t, utf8.ValidString(got), "truncation produced invalid UTF-8: %q", got)
	assert.Equal(t, strings.Repeat("ñ", 40)+"…", got)

	accented := "reclamación de indemnización tras despido improcedente según convenio"
	got = Summary(accented, 30)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestSummary(t *testing.T) {
	assert.Equal(t, "corto", Summary("corto", 240))

	long := strings.Repeat("palabra ", 50)
	got := Summary(long, 40)
	assert.LessOrEqual(t, len(got), 40+len("…"))
	assert.True(t, strings.HasSuffix(got, "…"))
	// Cut lands on a word boundary, not mid-word.
	trimmed := strings.TrimSuffix(got, "…")
	assert.False(t, strings.HasSuffix(trimmed, "palab"))
}
