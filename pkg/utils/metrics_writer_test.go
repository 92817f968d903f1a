/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: metrics_writer_test.go
Description: Tests for run report files.
*/

package utils_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
	"github.com/kleascm/akaylee-pcfg/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRunReport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	finished := time.Date(2024, 6, 11, 1, 30, 0, 123_000_000, time.Local)

	path, err := utils.WriteRunReport(dir, utils.RunReport{
		Session:  "nightly",
		Ruleset:  "/rules/Default",
		Reason:   core.StopLimit,
		Guesses:  1000,
		Stats:    core.StatsSnapshot{Guesses: 400, PreTerminals: 12},
		Overflow: &core.OverflowStatus{Size: 3, MaxProbability: 0.01},
		Finished: finished,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2024-06-11_01-30-00.123_nightly.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var got utils.RunReport
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, core.StopLimit, got.Reason)
	assert.Equal(t, int64(1000), got.Guesses)
	assert.Equal(t, int64(12), got.Stats.PreTerminals)
	require.NotNil(t, got.Overflow)
	assert.Equal(t, 3, got.Overflow.Size)
}

func TestWriteRunReportWithoutSession(t *testing.T) {
	dir := t.TempDir()
	path, err := utils.WriteRunReport(dir, utils.RunReport{Reason: core.StopExhausted})
	require.NoError(t, err)
	assert.Regexp(t, `_run\.json$`, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"overflow"`)
	assert.NotContains(t, string(data), `"session"`)
}
