package sequence

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFormatCode(t *testing.T) {
	code, err := FormatCode("EVT", "261019", 1)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^EVT-261019-001[A-Z2-9]{2}$`), code)

	code, err = FormatCode("EVT", "261019", 36*36*36)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^EVT-261019-1000[A-Z2-9]{2}$`), code)
}
