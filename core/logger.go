package core

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// levelPriority orders log levels for filtering
var levelPriority = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// ProductionLogger implements Logger with leveled, structured output.
// JSON format is intended for log aggregation, text for local
// development. Safe for concurrent use.
type ProductionLogger struct {
	level  string
	format string
	output io.Writer
	mu     sync.Mutex
}

// NewProductionLogger creates a logger writing to stdout.
// Level is one of debug, info, warn, error; format is json or text.
func NewProductionLogger(level, format string) *ProductionLogger {
	return NewProductionLoggerWithOutput(level, format, os.Stdout)
}

// NewProductionLoggerWithOutput creates a logger writing to the given writer.
func NewProductionLoggerWithOutput(level, format string, output io.Writer) *ProductionLogger {
	level = strings.ToLower(level)
	if _, ok := levelPriority[level]; !ok {
		level = "info"
	}
	if format != "json" && format != "text" {
		format = "text"
	}
	return &ProductionLogger{
		level:  level,
		format: format,
		output: output,
	}
}

func (l *ProductionLogger) Info(msg string, fields map[string]interface{})  { l.log("info", msg, fields) }
func (l *ProductionLogger) Error(msg string, fields map[string]interface{}) { l.log("error", msg, fields) }
func (l *ProductionLogger) Warn(msg string, fields map[string]interface{})  { l.log("warn", msg, fields) }
func (l *ProductionLogger) Debug(msg string, fields map[string]interface{}) { l.log("debug", msg, fields) }

func (l *ProductionLogger) log(level, msg string, fields map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.level] {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == "json" {
		entry := make(map[string]interface{}, len(fields)+3)
		entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)
		entry["level"] = level
		entry["message"] = msg
		for k, v := range fields {
			entry[k] = v
		}
		data, err := json.Marshal(entry)
		if err != nil {
			// Fall back to text so the entry is not lost
			fmt.Fprintf(l.output, "%s [%s] %s (unserializable fields)\n",
				time.Now().UTC().Format(time.RFC3339), strings.ToUpper(level), msg)
			return
		}
		fmt.Fprintln(l.output, string(data))
		return
	}

	// Text format with deterministic field order
	var sb strings.Builder
	sb.WriteString(time.Now().UTC().Format(time.RFC3339))
	sb.WriteString(" [")
	sb.WriteString(strings.ToUpper(level))
	sb.WriteString("] ")
	sb.WriteString(msg)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf(" %s=%v", k, fields[k]))
	}
	fmt.Fprintln(l.output, sb.String())
}
