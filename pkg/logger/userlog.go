package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UserLog appends one line per user action to a file dedicated to that user,
// so a single user's story can be read end to end without grepping the main
// log.
type UserLog struct {
	mu  sync.Mutex
	dir string
}

func NewUserLog(dir string) *UserLog {
	return &UserLog{dir: dir}
}

// Interaction records an action for userID. Failures are reported on the main
// log and otherwise ignored; interaction logging is never load-bearing.
func (u *UserLog) Interaction(userID int64, displayName, details string) {
	if u == nil || u.dir == "" {
		return
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	if err := os.MkdirAll(u.dir, 0755); err != nil {
		WarnCF("userlog", "Failed to create user log directory", map[string]interface{}{
			"dir": u.dir, "error": err.Error(),
		})
		return
	}

	path := filepath.Join(u.dir, fmt.Sprintf("%d.log", userID))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		WarnCF("userlog", "Failed to open user log", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
		return
	}
	defer f.Close()

	line := fmt.Sprintf("[%s] - User: %s (%d) - Action: %s\n",
		time.Now().Format("2006-01-02 15:04:05"), displayName, userID, details)
	if _, err := f.WriteString(line); err != nil {
		WarnCF("userlog", "Failed to write user log entry", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
	}
}
