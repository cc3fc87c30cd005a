package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetConfigPath_Priority(t *testing.T) {
	// CLI flag takes precedence
	t.Setenv("QUICKREPLY_CONFIG", "/env/config.yaml")
	assert.Equal(t, "/custom/config.yaml", getConfigPath("/custom/config.yaml"))

	// Environment variable when no flag
	assert.Equal(t, "/env/config.yaml", getConfigPath(""))

	// Default when neither flag nor env
	t.Setenv("QUICKREPLY_CONFIG", "")
	assert.Contains(t, getConfigPath(""), filepath.Join("quickreply", "config.yaml"))
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, expandPath("~"))
	assert.Equal(t, filepath.Join(home, "bundles", "a.json"), expandPath("~/bundles/a.json"))
	assert.Equal(t, "/abs/path", expandPath("/abs/path"))
	assert.Equal(t, "relative", expandPath("relative"))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"fits", "Hello", 10, "Hello"},
		{"cut", "Hello there friend", 8, "Hello t…"},
		{"whitespace_collapsed", "a\n  b\tc", 10, "a b c"},
		{"wide_runes", "你好世界", 5, "你好…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, truncate(tt.in, tt.width))
		})
	}
	assert.Equal(t, "ab  ", cell("ab", 4))
}

func TestReadIdentities(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key.txt")
	require.NoError(t, os.WriteFile(path, []byte("# created: 2024-03-01\n\nAGE-SECRET-KEY-1ABC\n"), 0o600))

	ids, err := readIdentities(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"AGE-SECRET-KEY-1ABC"}, ids)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("# nothing\n"), 0o600))
	_, err = readIdentities(empty)
	assert.Error(t, err)
}

// writeTestConfig writes a config with its own data dir and log file.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "data_dir: " + filepath.ToSlash(filepath.Join(dir, "data")) + "\n" +
		"default_account: default\n" +
		"log:\n  level: error\n  file: " + filepath.ToSlash(filepath.Join(dir, "quickreply.log")) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func runCLI(t *testing.T, cfgPath, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

var createdID = regexp.MustCompile(`created\S*\s+(\S+)`)

func mustCreate(t *testing.T, cfgPath string, args ...string) string {
	t.Helper()
	out, err := runCLI(t, cfgPath, "", args...)
	require.NoError(t, err, out)
	m := createdID.FindStringSubmatch(out)
	require.Len(t, m, 2, out)
	return m[1]
}

func TestCLI_TemplateLifecycle(t *testing.T) {
	cfg := writeTestConfig(t)

	gid := mustCreate(t, cfg, "groups", "add", "Greetings")
	tid := mustCreate(t, cfg, "templates", "add", "-g", gid, "-l", "Hello", "--text", "Hello there")

	out, err := runCLI(t, cfg, "", "groups", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Greetings")
	assert.Contains(t, out, "(1)")

	out, err = runCLI(t, cfg, "", "templates", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello there")
	assert.Contains(t, out, tid)

	out, err = runCLI(t, cfg, "", "templates", "send", tid)
	require.NoError(t, err)
	assert.Contains(t, out, "[send] Hello there")

	out, err = runCLI(t, cfg, "", "templates", "insert", tid)
	require.NoError(t, err)
	assert.Contains(t, out, "[focus]")
	assert.Contains(t, out, "[insert] Hello there")

	out, err = runCLI(t, cfg, "", "templates", "search", "THERE")
	require.NoError(t, err)
	assert.Contains(t, out, tid)

	out, err = runCLI(t, cfg, "", "templates", "search", "nomatch")
	require.NoError(t, err)
	assert.Contains(t, out, "No templates.")

	_, err = runCLI(t, cfg, "", "templates", "send", "missing")
	assert.Error(t, err)

	_, err = runCLI(t, cfg, "", "templates", "send", tid, "--translate")
	assert.Error(t, err, "translation is disabled")

	out, err = runCLI(t, cfg, "", "groups", "rm", gid)
	require.NoError(t, err)
	assert.Contains(t, out, "1 group(s), 1 template(s)")
}

func TestCLI_AccountsAreIsolated(t *testing.T) {
	cfg := writeTestConfig(t)
	mustCreate(t, cfg, "groups", "add", "Work only", "--account", "work")

	out, err := runCLI(t, cfg, "", "groups", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No groups.")

	out, err = runCLI(t, cfg, "", "groups", "list", "--account", "work")
	require.NoError(t, err)
	assert.Contains(t, out, "Work only")
}

func TestCLI_ExportImport(t *testing.T) {
	cfg := writeTestConfig(t)
	gid := mustCreate(t, cfg, "groups", "add", "Support")
	mustCreate(t, cfg, "templates", "add", "-g", gid, "-l", "Card", "--type", "contact",
		"--contact-name", "Help Desk", "--contact-phone", "+1 555 0100")

	bundle := filepath.Join(t.TempDir(), "bundle.yaml")
	out, err := runCLI(t, cfg, "", "export", "-o", bundle, "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "1 group(s), 1 template(s)")
	assert.FileExists(t, bundle)

	out, err = runCLI(t, cfg, "", "import", bundle, "--account", "copy")
	require.NoError(t, err)
	assert.Contains(t, out, "1 group(s), 1 template(s), 0 media file(s)")

	out, err = runCLI(t, cfg, "", "templates", "list", "--account", "copy")
	require.NoError(t, err)
	assert.Contains(t, out, "Help Desk")
}

func TestCLI_Clear(t *testing.T) {
	cfg := writeTestConfig(t)
	mustCreate(t, cfg, "groups", "add", "Temp")

	_, err := runCLI(t, cfg, "", "clear")
	require.Error(t, err)

	_, err = runCLI(t, cfg, "", "clear", "--yes")
	require.NoError(t, err)

	out, err := runCLI(t, cfg, "", "groups", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No groups.")
}

func TestCLI_Shell(t *testing.T) {
	cfg := writeTestConfig(t)
	mustCreate(t, cfg, "groups", "add", "Other group", "--account", "other")

	out, err := runCLI(t, cfg, "switch other\ngroups\nbogus\nswitch other\nquit\n", "shell")
	require.NoError(t, err)
	assert.Contains(t, out, "default -> other")
	assert.Contains(t, out, "Other group")
	assert.Contains(t, out, `unknown command "bogus"`)
	assert.Contains(t, out, "quickreply(other)>")
}

func TestCLI_Version(t *testing.T) {
	out, err := runCLI(t, writeTestConfig(t), "", "version")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(out))
}
