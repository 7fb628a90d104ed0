package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide JSON-line logger. Every structured line the
// service emits (request logs, audit events, webhook failures) goes through
// it so the output stays one parseable stream on stdout.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest emits one JSON line for a handled HTTP request. The entry is
// stamped with "ts" and "type":"http_request" unless the caller already set
// them, keeping request lines filterable alongside audit lines.
func LogRequest(entry map[string]any) {
	if _, ok := entry["ts"]; !ok {
		entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := entry["type"]; !ok {
		entry["type"] = "http_request"
	}
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"type":"log_error","msg":"request log marshal failed"}`)
		return
	}
	Logger().Println(string(data))
}
