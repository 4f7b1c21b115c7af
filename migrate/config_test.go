package migrate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseConfigurationFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := writeFile(t, filepath.Join(dir, ".classmig.yaml"), `
name: host-plugins
cache_dir: .classmig-cache
surface: api/host-api.yaml
rules: /etc/classmig/rules.yaml
exempt_prefixes: [java/, kotlin/]
`)

	config, err := ParseConfigurationFile(path)
	require.NoError(t, err)
	assert.Equal(t, Config{
		Name:           "host-plugins",
		CacheDir:       filepath.Join(dir, ".classmig-cache"),
		Surface:        filepath.Join(dir, "api/host-api.yaml"),
		Rules:          "/etc/classmig/rules.yaml",
		ExemptPrefixes: []string{"java/", "kotlin/"},
	}, config)
}

func TestParseConfigurationFileErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing surface",
			content: "name: x\ncache_dir: cache\n",
		},
		{
			name:    "unknown setting",
			content: "name: x\ncache_dir: cache\nsurface: s.yaml\nrule: r.yaml\n",
		},
		{
			name:    "empty exempt prefix",
			content: "name: x\ncache_dir: cache\nsurface: s.yaml\nexempt_prefixes: [java/, \"\"]\n",
		},
		{
			name:    "not yaml",
			content: "name: [x\n",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			path := writeFile(t, filepath.Join(t.TempDir(), ".classmig.yaml"), tc.content)
			_, err := ParseConfigurationFile(path)
			assert.Error(t, err)
		})
	}

	_, err := ParseConfigurationFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteDefaultConfiguration(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigurationPath)

	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, WriteConfigurationFile(path, DefaultConfig()))

	config, err := ParseConfigurationFile(path)
	require.NoError(t, err)
	assert.Equal(t, "classmig", config.Name)
	assert.Equal(t, filepath.Join(dir, ".classmig-cache"), config.CacheDir)
	assert.Equal(t, filepath.Join(dir, "migration-rules.yaml"), config.Rules)
	assert.Contains(t, config.ExemptPrefixes, "kotlin/")
}
