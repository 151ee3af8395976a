package main

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/cli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	yaml := fmt.Sprintf(`
database:
  driver: sqlite
  master: "file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"
lock:
  driver: local
log:
  level: error
`, filepath.Join(dir, "pollbox.db"))

	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2024-03-01T10:00:00Z", want: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
		{in: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.Local)},
		{in: "yesterday", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	now, err := parseTime("now")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), now, time.Second)
}

func TestQuestionCommands(t *testing.T) {
	configPath := writeConfig(t)

	ui := cli.NewMockUi()
	require.Zero(t, (&migrateCommand{ui: ui}).Run([]string{"-config", configPath}))

	code := (&questionAddCommand{ui: ui}).Run([]string{"-config", configPath, "-pub", "2020-01-01", "What's", "up?"})
	require.Zero(t, code, ui.ErrorWriter.String())
	assert.Contains(t, ui.OutputWriter.String(), "Created question 1.")

	code = (&choiceAddCommand{ui: ui}).Run([]string{"-config", configPath, "-question", "1", "Not much"})
	require.Zero(t, code, ui.ErrorWriter.String())
	assert.Contains(t, ui.OutputWriter.String(), "Added choice 1 to question 1.")

	code = (&questionListCommand{ui: ui}).Run([]string{"-config", configPath})
	require.Zero(t, code, ui.ErrorWriter.String())
	assert.Contains(t, ui.OutputWriter.String(), "What's up?")
	assert.Contains(t, ui.OutputWriter.String(), "open")

	code = (&questionAddCommand{ui: ui}).Run([]string{"-config", configPath, "-pub", "2020-01-02", "-end", "2020-01-01", "Backwards"})
	assert.Equal(t, 1, code)
	assert.Contains(t, ui.ErrorWriter.String(), "end date is before publication date")

	code = (&questionDeleteCommand{ui: ui}).Run([]string{"-config", configPath, "-id", "1"})
	require.Zero(t, code, ui.ErrorWriter.String())

	code = (&questionVotesCommand{ui: ui}).Run([]string{"-config", configPath, "-id", "1"})
	require.Zero(t, code, ui.ErrorWriter.String())
	assert.Contains(t, ui.OutputWriter.String(), "0 votes recorded.")
}
