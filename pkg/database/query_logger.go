package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tegendraads/registry/pkg/logger"
	"github.com/tegendraads/registry/pkg/metrics"
)

// DefaultSlowQueryThreshold applies when Config.SlowQueryThreshold is zero.
const DefaultSlowQueryThreshold = 200 * time.Millisecond

// queryLogger routes gorm output through the service logger and records
// ledger query metrics.
type queryLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newQueryLogger(log logger.Logger, slow time.Duration) *queryLogger {
	if slow <= 0 {
		slow = DefaultSlowQueryThreshold
	}
	return &queryLogger{log: log, level: gormlogger.Warn, slow: slow}
}

func (l *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *queryLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *queryLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

// Trace is called by gorm once per statement.
func (l *queryLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		metrics.RecordLedgerQuery(metrics.OutcomeError, elapsed.Seconds())
		if l.level >= gormlogger.Error {
			sql, rows := fc()
			l.log.Error("Ledger query failed", "error", err, "sql", sql, "rows", rows, "duration", elapsed)
		}
	case elapsed > l.slow:
		metrics.RecordLedgerQuery(metrics.OutcomeSlow, elapsed.Seconds())
		if l.level >= gormlogger.Warn {
			sql, rows := fc()
			l.log.Warn("Slow ledger query", "sql", sql, "rows", rows, "duration", elapsed, "threshold", l.slow)
		}
	default:
		metrics.RecordLedgerQuery(metrics.OutcomeOK, elapsed.Seconds())
		if l.level >= gormlogger.Info {
			sql, rows := fc()
			l.log.Debug("Ledger query", "sql", sql, "rows", rows, "duration", elapsed)
		}
	}
}
