// Package logging configures apex/log for the CLI.
package logging

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apex/log"
)

// Init sets up apex with a custom handler and a log level from the SBX_LOG
// env variable (default INFO).
func Init() {
	level := strings.ToUpper(os.Getenv("SBX_LOG"))
	if level == "" {
		level = "INFO"
	}

	log.SetHandler(&handler{})
	log.SetLevelFromString(level)
}

// handler formats log messages and writes them to stderr, keeping stdout for
// build-tool output and progress.
type handler struct{}

// HandleLog implements the log.Handler interface
func (h *handler) HandleLog(e *log.Entry) error {
	timestamp := time.Now().Format("15:04:05")
	level := strings.ToUpper(e.Level.String())

	fields := ""
	for _, f := range e.Fields.Names() {
		fields += fmt.Sprintf(" %s=%v", f, e.Fields.Get(f))
	}

	fmt.Fprintf(os.Stderr, "%s %.1s %s%s\n", timestamp, level, e.Message, fields)

	return nil
}
