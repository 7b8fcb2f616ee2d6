package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/podrag/pkg/version"
)

func TestVersionCmd(t *testing.T) {
	isolate(t)

	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{"default", nil, func(t *testing.T, out string) {
			assert.Contains(t, out, "podrag "+version.Version)
			assert.Contains(t, out, "commit")
		}},
		{"short", []string{"--short"}, func(t *testing.T, out string) {
			assert.Equal(t, version.Version, strings.TrimSpace(out))
		}},
		{"json", []string{"--json"}, func(t *testing.T, out string) {
			var info version.BuildInfo
			require.NoError(t, json.Unmarshal([]byte(out), &info))
			assert.Equal(t, version.Version, info.Version)
			assert.NotEmpty(t, info.GoVersion)
		}},
		{"verbose", []string{"-v"}, func(t *testing.T, out string) {
			assert.Contains(t, out, "platform:")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := run(t, append([]string{"version"}, tt.args...)...)

			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}
