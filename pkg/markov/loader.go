/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: loader.go
Description: Loads a trained OMEN directory: config.yaml, alphabet.txt and the IP, CP and
LN level files. Lines are decoded with the configured encoding.
*/

package markov

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kleascm/akaylee-pcfg/pkg/grammar"
	"gopkg.in/yaml.v3"
)

// File names inside an OMEN directory
const (
	ConfigFile   = "config.yaml"
	AlphabetFile = "alphabet.txt"
	IPFile       = "IP.level"
	CPFile       = "CP.level"
	LNFile       = "LN.level"
)

// LoadConfig reads config.yaml, falling back to defaults for missing keys
func LoadConfig(dir string) (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(dir, ConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, &grammar.LoadError{Stage: grammar.StageManifest, File: path, Err: err}
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, &grammar.LoadError{Stage: grammar.StageManifest, File: path, Err: fmt.Errorf("failed to parse YAML: %w", err)}
	}
	if cfg.Encoding == "" {
		cfg.Encoding = "utf-8"
	}
	return cfg, nil
}

// Load reads a trained model directory
func Load(dir string) (*Model, error) {
	cfg, err := LoadConfig(dir)
	if err != nil {
		return nil, err
	}

	var alphabet []string
	err = grammar.ReadLines(filepath.Join(dir, AlphabetFile), cfg.Encoding, func(_ int, line string) error {
		if line != "" {
			alphabet = append(alphabet, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ip := make(map[string]int)
	if err := readLevels(filepath.Join(dir, IPFile), cfg.Encoding, func(level int, value string) error {
		ip[value] = level
		return nil
	}); err != nil {
		return nil, err
	}

	cp := make(map[string]int)
	if err := readLevels(filepath.Join(dir, CPFile), cfg.Encoding, func(level int, value string) error {
		cp[value] = level
		return nil
	}); err != nil {
		return nil, err
	}

	ln := make(map[int]int)
	if err := readLevels(filepath.Join(dir, LNFile), cfg.Encoding, func(level int, value string) error {
		length, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("bad length %q", value)
		}
		ln[length] = level
		return nil
	}); err != nil {
		return nil, err
	}

	m, err := NewModel(cfg, alphabet, ip, cp, ln)
	if err != nil {
		return nil, &grammar.LoadError{Stage: grammar.StageBuild, File: dir, Err: err}
	}
	return m, nil
}

// readLevels parses "<level>\t<value>" lines
func readLevels(path, encoding string, fn func(level int, value string) error) error {
	return grammar.ReadLines(path, encoding, func(lineNo int, line string) error {
		if line == "" {
			return nil
		}
		levelText, value, ok := strings.Cut(line, "\t")
		if !ok {
			return &grammar.LoadError{Stage: grammar.StageRules, File: path, Line: lineNo, Err: fmt.Errorf("expected <level>\\t<value>")}
		}
		level, err := strconv.Atoi(strings.TrimSpace(levelText))
		if err != nil {
			return &grammar.LoadError{Stage: grammar.StageRules, File: path, Line: lineNo, Err: fmt.Errorf("bad level: %w", err)}
		}
		if err := fn(level, value); err != nil {
			return &grammar.LoadError{Stage: grammar.StageRules, File: path, Line: lineNo, Err: err}
		}
		return nil
	})
}
