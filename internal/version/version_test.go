package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	assert.NotEmpty(t, info.Version)
	assert.Contains(t, info.Platform, "/")
	assert.True(t, strings.HasPrefix(info.GoVersion, "go"))
}

func TestGetVersionString(t *testing.T) {
	s := GetVersionString()
	assert.Contains(t, s, "quickreply")
	assert.Contains(t, s, Version)
}

func TestGetVersionString_ShortCommit(t *testing.T) {
	old := GitCommit
	t.Cleanup(func() { GitCommit = old })

	GitCommit = "0123456789abcdef"
	assert.Equal(t, "quickreply "+Version+" (01234567)", GetVersionString())
}

func TestGetDetailedVersionString(t *testing.T) {
	detailed := GetDetailedVersionString()
	for _, field := range []string{"quickreply", "Git commit:", "Build date:", "Go version:", "Platform:"} {
		assert.Contains(t, detailed, field)
	}
}

func TestIsRelease(t *testing.T) {
	oldV, oldC := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldV, oldC })

	tests := []struct {
		version, commit string
		want            bool
	}{
		{"1.0.0", "abc123", true},
		{"1.0.0-dev", "abc123", false},
		{"1.0.0", "unknown", false},
		{"", "abc123", false},
	}
	for _, tt := range tests {
		Version, GitCommit = tt.version, tt.commit
		assert.Equal(t, tt.want, IsRelease(), "%s/%s", tt.version, tt.commit)
	}
}
