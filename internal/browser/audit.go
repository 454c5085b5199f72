package browser

import (
	"log/slog"
)

// auditedOps are page operations that run caller-supplied code or move the
// page; they are logged at warn so they stand out in the daemon log.
var auditedOps = map[string]bool{
	"evaluate":        false,
	"add_script_tag":  true,
	"add_init_script": true,
	"expose_function": false,
	"navigate":        false,
}

type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditLogger{logger: logger.With("component", "browser-audit")}
}

func (l *auditLogger) log(op, detail string) {
	if l == nil {
		return
	}
	attrs := []any{"op", op, "detail", truncate(detail, 120)}
	if auditedOps[op] {
		l.logger.Warn("page_sensitive_op", attrs...)
	} else {
		l.logger.Debug("page_op", attrs...)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
