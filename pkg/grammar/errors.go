/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: errors.go
Description: Load-time errors for rulesets. Every failure while reading a trusted ruleset
is fatal and reports the stage, file and line that failed.
*/

package grammar

import (
	"errors"
	"fmt"
)

// LoadStage names the part of ruleset loading that failed
type LoadStage string

const (
	StageManifest LoadStage = "manifest"
	StageVersion  LoadStage = "version"
	StageEncoding LoadStage = "encoding"
	StageRules    LoadStage = "rules"
	StageBuild    LoadStage = "build"
)

// LoadError reports a fatal problem with a ruleset
type LoadError struct {
	Stage LoadStage
	File  string
	Line  int
	Err   error
}

// Error implements the error interface
func (e *LoadError) Error() string {
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("grammar load failed (%s) at %s:%d: %v", e.Stage, e.File, e.Line, e.Err)
	case e.File != "":
		return fmt.Sprintf("grammar load failed (%s) in %s: %v", e.Stage, e.File, e.Err)
	default:
		return fmt.Sprintf("grammar load failed (%s): %v", e.Stage, e.Err)
	}
}

// Unwrap returns the underlying cause
func (e *LoadError) Unwrap() error {
	return e.Err
}

// IsLoadError returns true if err is or wraps a LoadError
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// IsEncodingError returns true if err is a LoadError raised while decoding a ruleset line
func IsEncodingError(err error) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Stage == StageEncoding
	}
	return false
}
