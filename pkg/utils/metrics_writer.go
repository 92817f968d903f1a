/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: metrics_writer.go
Description: Writes a JSON summary of each generation run to a report directory.
Files are named by finish time and session so runs sort chronologically.
*/

package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kleascm/akaylee-pcfg/pkg/core"
)

// RunReport summarises one generation run
type RunReport struct {
	Session        string               `json:"session,omitempty"`
	Ruleset        string               `json:"ruleset"`
	GrammarVersion string               `json:"grammar_version"`
	NoMarkov       bool                 `json:"no_markov"`
	Reason         core.StopReason      `json:"reason"`
	Guesses        int64                `json:"guesses"` // Including earlier runs of the session
	Stats          core.StatsSnapshot   `json:"stats"`   // This run only
	Overflow       *core.OverflowStatus `json:"overflow,omitempty"`
	Finished       time.Time            `json:"finished"`
}

// WriteRunReport writes report into dir and returns the file path
func WriteRunReport(dir string, report RunReport) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	if report.Finished.IsZero() {
		report.Finished = time.Now()
	}

	// 2024-06-11_01-30-00.123_nightly.json
	name := report.Session
	if name == "" {
		name = "run"
	}
	filename := fmt.Sprintf("%s_%s.json", report.Finished.Format("2006-01-02_15-04-05.000"), name)
	filePath := filepath.Join(dir, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal run report: %w", err)
	}
	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write run report: %w", err)
	}
	return filePath, nil
}
