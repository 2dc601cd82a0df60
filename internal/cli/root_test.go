package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the root command with args and returns stdout.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand(nil)
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeLines(t *testing.T, s string) []map[string]any {
	t.Helper()
	var docs []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(s), "\n") {
		if line == "" {
			continue
		}
		var d map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &d))
		docs = append(docs, d)
	}
	return docs
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(nil)
	require.NotNil(t, cmd)
	assert.Equal(t, "leafdb", cmd.Use)
	assert.Contains(t, cmd.Long, "JSONL")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	commands := []string{"open", "get", "find", "count", "insert", "update", "delete", "drop", "watch", "config-schema"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(nil)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	for name, def := range map[string]string{"dir": ".", "name": "leafdb", "strict": "false", "log-level": "info"} {
		f := cmd.PersistentFlags().Lookup(name)
		require.NotNil(t, f, name)
		assert.Equal(t, def, f.DefValue, name)
	}
}

func TestDocumentCommands(t *testing.T) {
	dir := t.TempDir()
	base := []string{"--dir", dir, "--name", "people"}
	exec := func(stdin string, args ...string) string {
		t.Helper()
		out, err := run(t, stdin, append(args, base...)...)
		require.NoError(t, err)
		return out
	}

	out := exec("", "insert", `{"_id":"a","name":"Alice","age":30,"address":{"city":"Paris","zip":"75001"}}`, `{"_id":"b","name":"Bob","age":12}`)
	assert.Len(t, decodeLines(t, out), 2)

	out = exec(`{"name":"Carol","age":45}`+"\n\n"+`{"_id":"d","name":"Dan","age":18}`+"\n", "insert")
	docs := decodeLines(t, out)
	require.Len(t, docs, 2)
	assert.NotEmpty(t, docs[0]["_id"])

	assert.Equal(t, "4\n", exec("", "count"))
	assert.Equal(t, "3\n", exec("", "count", `{"age":{"$gte":18}}`))

	out = exec("", "get", "a")
	assert.Equal(t, "Alice", decodeLines(t, out)[0]["name"])

	out = exec("", "find", `{"_id":"a"}`, "--fields", "name,address.city")
	assert.Equal(t, []map[string]any{{"name": "Alice", "address": map[string]any{"city": "Paris"}}}, decodeLines(t, out))

	out = exec("", "update", `{"_id":"b"}`, `{"$add":{"age":1}}`)
	assert.Equal(t, 13.0, decodeLines(t, out)[0]["age"])

	assert.Equal(t, "1\n", exec("", "delete", `{"name":"Dan"}`))
	assert.Equal(t, "3\n", exec("", "count"))

	// Every command compacts the log on open.
	data, err := os.ReadFile(filepath.Join(dir, "people.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(data), "\n"))

	exec("", "drop")
	assert.Equal(t, "0\n", exec("", "count"))
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"get missing", []string{"get", "nope"}, "document not found"},
		{"bad query json", []string{"find", "{"}, "failed to parse query"},
		{"query not object", []string{"count", "[1]"}, "must be a JSON object"},
		{"invalid operator", []string{"find", `{"a":{"$nope":1}}`}, "invalid query"},
		{"invalid update", []string{"update", "{}", `{"$set":{"a":1},"b":2}`}, "invalid update"},
		{"invalid document", []string{"insert", `{"$a":1}`, "--strict"}, "invalid document"},
		{"bad log level", []string{"count", "--log-level", "loud"}, "unknown log level"},
		{"missing args", []string{"update", "{}"}, "accepts 2 arg(s)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, "", append(tt.args, "--dir", dir, "--name", "x")...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestInsertStrict(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "", "insert", `{"_id":"a"}`, `{"_id":"a"}`, "--dir", dir, "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate identifier")

	out, err := run(t, "", "count", "--dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "0\n", out)

	out, err = run(t, "", "insert", `{"_id":"a"}`, `{"_id":"a"}`, "--dir", dir)
	require.NoError(t, err)
	assert.Len(t, decodeLines(t, out), 1)
}

func TestOpenCommand(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "leafdb.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"_id":"a"}`+"\n"+`{"_id":"b`+"\n"), 0o644))

	_, err := run(t, "", "open", "--dir", dir, "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt record at line 2")

	out, err := run(t, "", "open", "--dir", dir)
	require.NoError(t, err)
	lines := decodeLines(t, out)
	require.Len(t, lines, 1)
	assert.Equal(t, 2.0, lines[0]["line"])
	assert.Equal(t, `{"_id":"b`, lines[0]["raw"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"_id":"a"}`+"\n", string(data))
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "leafdb.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("dir: "+dir+"\nname: fromfile\nlog_level: warn\n"), 0o644))

	_, err := run(t, "", "insert", `{"_id":"a"}`, "--config", cfgPath)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "fromfile.jsonl"))

	// Flags set on the command line win over the file.
	_, err = run(t, "", "insert", `{"_id":"a"}`, "--config", cfgPath, "--name", "fromflag")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "fromflag.jsonl"))

	level := &slog.LevelVar{}
	cmd := NewRootCommand(level)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"count", "--config", cfgPath})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, slog.LevelWarn, level.Level())

	require.NoError(t, os.WriteFile(cfgPath, []byte("nme: x\n"), 0o644))
	_, err = run(t, "", "count", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestConfigSchemaCommand(t *testing.T) {
	out, err := run(t, "", "config-schema")
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema))
	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "log_level")
	assert.Contains(t, props, "strict")
}
