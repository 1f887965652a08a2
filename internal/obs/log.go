package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

const serviceName = "paneldeck-api"

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the shared line-oriented logger. Every entry is one JSON
// object on stdout; shipping and retention are the supervisor's problem.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

func emit(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}

// LogRequest emits one JSON line per served request. The HTTP middleware
// owns the field set; nothing is added here.
func LogRequest(entry map[string]any) {
	emit(entry)
}

// Event logs a service lifecycle or error event, stamped with timestamp,
// level and service name, merging in any extra fields.
func Event(level, msg string, fields map[string]any) {
	entry := map[string]any{
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"level":   level,
		"service": serviceName,
		"msg":     msg,
	}
	for k, v := range fields {
		entry[k] = v
	}
	emit(entry)
}
