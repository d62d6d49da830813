package logger

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
	FATAL: "FATAL",
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	case "fatal":
		return FATAL
	default:
		return INFO
	}
}

type fileSink struct {
	mu          sync.Mutex
	file        *os.File
	path        string
	rotate      bool
	maxSize     int64
	maxAgeDays  int
	currentSize int64
	lastRotated time.Time
}

var (
	mu           sync.RWMutex
	currentLevel = INFO
	sink         = &fileSink{}
)

type entry struct {
	Level     string                 `json:"level"`
	Timestamp string                 `json:"timestamp"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	currentLevel = level
}

// EnableFileLogging opens an append-only JSON-lines log file. When rotation
// is enabled the file rolls over past maxSizeMB or at a day boundary, and
// rotated files older than maxAgeDays are pruned.
func EnableFileLogging(path string, rotate bool, maxSizeMB, maxAgeDays int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	size := int64(0)
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.file != nil {
		sink.file.Close()
	}
	sink.file = f
	sink.path = path
	sink.rotate = rotate
	sink.maxSize = int64(maxSizeMB) * 1024 * 1024
	sink.maxAgeDays = maxAgeDays
	sink.currentSize = size
	sink.lastRotated = time.Now()
	return nil
}

func (s *fileSink) needsRotation() bool {
	if !s.rotate {
		return false
	}
	if s.maxSize > 0 && s.currentSize >= s.maxSize {
		return true
	}
	now := time.Now()
	return s.maxAgeDays > 0 &&
		(now.YearDay() != s.lastRotated.YearDay() || now.Year() != s.lastRotated.Year())
}

// rotateLocked renames the active file aside and reopens a fresh one.
// Callers hold s.mu.
func (s *fileSink) rotateLocked() {
	s.file.Close()
	rotated := fmt.Sprintf("%s.%s", s.path, time.Now().Format("20060102-150405"))
	if err := os.Rename(s.path, rotated); err != nil {
		log.Printf("log rotation failed: %v", err)
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("reopen log file failed: %v", err)
		s.file = nil
		return
	}
	s.file = f
	s.currentSize = 0
	s.lastRotated = time.Now()
	go s.pruneRotated()
}

func (s *fileSink) pruneRotated() {
	if s.maxAgeDays <= 0 {
		return
	}
	dir := filepath.Dir(s.path)
	base := filepath.Base(s.path)
	cutoff := time.Now().AddDate(0, 0, -s.maxAgeDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), base+".") {
			continue
		}
		if info, err := e.Info(); err == nil && info.ModTime().Before(cutoff) {
			os.Remove(filepath.Join(dir, e.Name()))
		}
	}
}

func (s *fileSink) write(e entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	if s.needsRotation() {
		s.rotateLocked()
		if s.file == nil {
			return
		}
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if n, err := s.file.WriteString(string(data) + "\n"); err == nil {
		s.currentSize += int64(n)
	}
}

func logMessage(level Level, component, message string, fields map[string]interface{}) {
	mu.RLock()
	enabled := level >= currentLevel
	mu.RUnlock()
	if !enabled {
		return
	}

	e := entry{
		Level:     levelNames[level],
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Component: component,
		Message:   message,
		Fields:    fields,
	}
	sink.write(e)

	line := fmt.Sprintf("[%s]%s %s%s", levelNames[level], formatComponent(component), message, formatFields(fields))
	log.Println(line)

	if level == FATAL {
		os.Exit(1)
	}
}

func formatComponent(component string) string {
	if component == "" {
		return ""
	}
	return " " + component + ":"
}

func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return fmt.Sprintf(" {%s}", strings.Join(parts, ", "))
}

func DebugC(component, message string) { logMessage(DEBUG, component, message, nil) }
func InfoC(component, message string)  { logMessage(INFO, component, message, nil) }
func WarnC(component, message string)  { logMessage(WARN, component, message, nil) }
func ErrorC(component, message string) { logMessage(ERROR, component, message, nil) }
func FatalC(component, message string) { logMessage(FATAL, component, message, nil) }

func DebugCF(component, message string, fields map[string]interface{}) {
	logMessage(DEBUG, component, message, fields)
}

func InfoCF(component, message string, fields map[string]interface{}) {
	logMessage(INFO, component, message, fields)
}

func WarnCF(component, message string, fields map[string]interface{}) {
	logMessage(WARN, component, message, fields)
}

func ErrorCF(component, message string, fields map[string]interface{}) {
	logMessage(ERROR, component, message, fields)
}
