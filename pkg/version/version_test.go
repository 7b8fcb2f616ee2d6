package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	// Given: a build with or without ldflags
	if Version == "dev" {
		return
	}

	// Then: an injected version is semver
	semverRegex := regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.]+)?$`)
	require.True(t, semverRegex.MatchString(Version), "got %s", Version)
}

func TestString_ReturnsFormattedString(t *testing.T) {
	str := String()

	assert.Contains(t, str, "podrag")
	assert.Contains(t, str, Version)
	assert.Contains(t, str, "commit")
	assert.Equal(t, Version, Short())
}

func TestGetInfo_MarshalsPlatform(t *testing.T) {
	// When: rendering build info as JSON
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	// Then: the platform fields come from the runtime
	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, runtime.GOOS, decoded["os"])
	assert.Equal(t, runtime.GOARCH, decoded["arch"])
	assert.Equal(t, runtime.Version(), decoded["go_version"])
}
