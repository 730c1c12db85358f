package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Logger writes leveled, timestamped entries for one trading symbol to a
// daily log file.
type Logger struct {
	symbol  string
	logFile *os.File
	logger  *log.Logger
	mu      sync.Mutex
	logDir  string
}

// LogLevel represents different types of log entries
type LogLevel string

const (
	LogLevelInfo    LogLevel = "INFO"
	LogLevelWarning LogLevel = "WARN"
	LogLevelError   LogLevel = "ERROR"
	LogLevelTrade   LogLevel = "TRADE"
	LogLevelStatus  LogLevel = "STATUS"
)

// NewLogger creates a file logger for the specified symbol
func NewLogger(symbol string) (*Logger, error) {
	logDir := "logs"
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02")
	filename := fmt.Sprintf("%s_%s.log", symbol, timestamp)
	logPath := filepath.Join(logDir, filename)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	l := &Logger{
		symbol:  symbol,
		logFile: file,
		logger:  log.New(file, "", 0),
		logDir:  logDir,
	}

	l.writeSessionHeader()
	return l, nil
}

// NewDiscard returns a logger that drops every entry. Useful in tests and
// tools that do not want log files on disk.
func NewDiscard() *Logger {
	return &Logger{
		symbol: "discard",
		logger: log.New(io.Discard, "", 0),
	}
}

// writeSessionHeader writes a session start header to the log
func (l *Logger) writeSessionHeader() {
	l.mu.Lock()
	defer l.mu.Unlock()

	header := fmt.Sprintf(`
================================================================================
🚀 MARTINGALE LADDER SESSION STARTED
================================================================================
Symbol: %s
Started: %s
Log File: %s_%s.log
================================================================================
`, l.symbol, time.Now().Format("2006-01-02 15:04:05"),
		l.symbol, time.Now().Format("2006-01-02"))

	l.logger.Print(header)
}

// Log writes a formatted log entry with the specified level
func (l *Logger) Log(level LogLevel, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	message := fmt.Sprintf(format, args...)
	l.logger.Println(fmt.Sprintf("[%s] [%s] %s", timestamp, level, message))
}

// Info logs an info message
func (l *Logger) Info(format string, args ...interface{}) {
	l.Log(LogLevelInfo, format, args...)
}

// Warning logs a warning message
func (l *Logger) Warning(format string, args ...interface{}) {
	l.Log(LogLevelWarning, format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.Log(LogLevelError, format, args...)
}

// Trade logs a trading action
func (l *Logger) Trade(format string, args ...interface{}) {
	l.Log(LogLevelTrade, format, args...)
}

// Status logs market status information
func (l *Logger) Status(format string, args ...interface{}) {
	l.Log(LogLevelStatus, format, args...)
}

// LogPresumedFill flags an inferred fill distinctly, since it is an
// approximation derived from the order's disappearance rather than a
// confirmed execution.
func (l *Logger) LogPresumedFill(orderID string, price, quantity float64, corroborated bool) {
	source := "UNCORROBORATED"
	if corroborated {
		source = "fill-history match"
	}
	l.Warning("⚠️ PRESUMED FILL for order %s: %.6f @ %.4f (%s): inferred from disappearance, not a confirmed execution",
		orderID, quantity, price, source)
}

// LogFill logs one confirmed fill and the resulting position
func (l *Logger) LogFill(source, orderID string, side string, price, quantity, totalQty, avgPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fillLog := fmt.Sprintf(`
[%s] [TRADE] ==================== %s FILL (%s) ====================
✅ Order ID: %s
📦 Quantity: %.6f %s
💰 Price: $%.4f
📊 Total Position: %.6f
📈 Average Entry: $%.4f
=============================================================`,
		timestamp, side, source, orderID, quantity, l.symbol, price, totalQty, avgPrice)

	l.logger.Println(fillLog)
}

// LogCycleCompletion logs cycle completion with realized profit
func (l *Logger) LogCycleCompletion(cycleID int, entryPrice, exitPrice, profit float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	cycleLog := fmt.Sprintf(`
[%s] [TRADE] ==================== CYCLE %d COMPLETED ====================
🎯 Entry Price: $%.4f
🚪 Exit Price: $%.4f
💵 Realized Profit: $%.4f
🔄 Starting fresh cycle...
==============================================================`,
		timestamp, cycleID, entryPrice, exitPrice, profit)

	l.logger.Println(cycleLog)
}

// LogEmergencyStop logs the emergency liquidation path
func (l *Logger) LogEmergencyStop(reason string, quantity, avgPrice float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	stopLog := fmt.Sprintf(`
[%s] [ERROR] ==================== EMERGENCY STOP ====================
🛑 Reason: %s
📦 Position: %.6f @ $%.4f
⛔ Cancelling all orders and market-closing position
==========================================================`,
		timestamp, reason, quantity, avgPrice)

	l.logger.Println(stopLog)
}

// LogError logs error with context
func (l *Logger) LogError(context string, err error) {
	l.Error("%s: %v", context, err)
}

// Close writes the session footer and closes the log file
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		footer := fmt.Sprintf(`
================================================================================
🛑 MARTINGALE LADDER SESSION ENDED
================================================================================
Ended: %s
================================================================================

`, time.Now().Format("2006-01-02 15:04:05"))
		l.logger.Print(footer)

		return l.logFile.Close()
	}
	return nil
}

// GetLogPath returns the current log file path
func (l *Logger) GetLogPath() string {
	timestamp := time.Now().Format("2006-01-02")
	return filepath.Join(l.logDir, fmt.Sprintf("%s_%s.log", l.symbol, timestamp))
}
