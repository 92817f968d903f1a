/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: formatter.go
Description: Custom log formatters for the guesser. Renders timestamp, level, an optional
subsystem tag and sorted structured fields, with ANSI colors when writing to a terminal.
*/

package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CustomFormatter renders one readable line per entry
type CustomFormatter struct {
	Timestamp bool
	Caller    bool
	Colors    bool
}

// Format formats a log entry
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return f.format(entry, "", entry.Message, f.formatValue), nil
}

func (f *CustomFormatter) format(entry *logrus.Entry, tag, message string, value func(key string, v interface{}) string) []byte {
	var output strings.Builder

	if f.Timestamp {
		f.paint(&output, 36, entry.Time.Format("2006-01-02 15:04:05.000")) // Cyan
		output.WriteByte(' ')
	}

	f.paint(&output, f.getLevelColor(entry.Level), strings.ToUpper(entry.Level.String()))
	output.WriteByte(' ')

	if tag != "" {
		f.paint(&output, 35, "["+tag+"]") // Magenta
		output.WriteByte(' ')
	}

	if f.Caller && entry.HasCaller() {
		f.paint(&output, 33, fmt.Sprintf("[%s:%d]", entry.Caller.File, entry.Caller.Line)) // Yellow
		output.WriteByte(' ')
	}

	output.WriteString(message)

	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			output.WriteByte(' ')
			if f.Colors {
				fmt.Fprintf(&output, "\033[34m%s\033[0m=\033[32m%s\033[0m", k, value(k, entry.Data[k])) // Blue key, green value
			} else {
				fmt.Fprintf(&output, "%s=%s", k, value(k, entry.Data[k]))
			}
		}
	}

	output.WriteByte('\n')
	return []byte(output.String())
}

func (f *CustomFormatter) paint(b *strings.Builder, color int, s string) {
	if f.Colors {
		fmt.Fprintf(b, "\033[%dm%s\033[0m", color, s)
		return
	}
	b.WriteString(s)
}

// getLevelColor returns the ANSI color code for a log level
func (f *CustomFormatter) getLevelColor(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return 37 // White
	case logrus.InfoLevel:
		return 32 // Green
	case logrus.WarnLevel:
		return 33 // Yellow
	case logrus.ErrorLevel:
		return 31 // Red
	default:
		return 35 // Magenta
	}
}

// formatValue formats a field value
func (f *CustomFormatter) formatValue(_ string, value interface{}) string {
	switch v := value.(type) {
	case time.Duration:
		return v.Round(time.Millisecond).String()
	case time.Time:
		return v.Format("15:04:05.000")
	case error:
		return v.Error()
	case string:
		if len(v) > 80 {
			return v[:80] + "..."
		}
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}

// subsystemTags are the message prefixes rendered as a tag
var subsystemTags = map[string]bool{
	"GRAMMAR":  true,
	"MARKOV":   true,
	"QUEUE":    true,
	"OVERFLOW": true,
	"EXPAND":   true,
	"SESSION":  true,
	"STATS":    true,
}

// GuesserFormatter lifts a leading subsystem word ("QUEUE rebuilt heap") into a tag and
// renders probabilities and rates compactly
type GuesserFormatter struct {
	CustomFormatter
}

// Format formats a guesser log entry
func (f *GuesserFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	tag, message := splitTag(entry.Message)
	return f.format(entry, tag, message, f.formatGuesserValue), nil
}

func splitTag(message string) (string, string) {
	word, rest, found := strings.Cut(message, " ")
	if !subsystemTags[word] {
		return "", message
	}
	if !found {
		return word, ""
	}
	return word, rest
}

// formatGuesserValue formats guesser-specific field values
func (f *GuesserFormatter) formatGuesserValue(key string, value interface{}) string {
	switch key {
	case "probability", "floor", "ceiling", "max_probability":
		if p, ok := value.(float64); ok {
			return fmt.Sprintf("%.4g", p)
		}
	case "rate":
		if r, ok := value.(float64); ok {
			return fmt.Sprintf("%.0f/sec", r)
		}
	case "session":
		if s, ok := value.(string); ok && len(s) > 8 {
			return s[:8]
		}
	}
	return f.formatValue(key, value)
}
