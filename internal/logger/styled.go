// internal/logger/styled.go
package logger

import (
	"fmt"
	"log/slog"

	"github.com/pterm/pterm"

	"github.com/xdien/cipher/internal/domain"
	"github.com/xdien/cipher/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting methods
type StyledLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

// NewStyledLogger creates a new styled logger with the given theme
func NewStyledLogger(logger *slog.Logger, theme *theme.Theme) *StyledLogger {
	return &StyledLogger{
		logger: logger,
		theme:  theme,
	}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *StyledLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Counts}.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithServer styles a server name inline, e.g. "starting connection <alpha>".
func (sl *StyledLogger) InfoWithServer(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Server}.Sprint(server))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithTool styles a fully-qualified tool name inline.
func (sl *StyledLogger) InfoWithTool(msg string, tool string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Tool}.Sprint(tool))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) InfoWithNumbers(msg string, numbers ...int64) {
	var formattedNums []string
	for _, num := range numbers {
		formattedNums = append(formattedNums, pterm.Style{sl.theme.Numbers}.Sprint(num))
	}

	// Build message with styled numbers
	styledMsg := fmt.Sprintf(msg, toInterfaceSlice(formattedNums)...)
	sl.logger.Info(styledMsg)
}

func (sl *StyledLogger) WarnWithServer(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Server}.Sprint(server))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorWithServer(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.Server}.Sprint(server))
	sl.logger.Error(styledMsg, args...)
}

// InfoConnected marks a server as having reached the running state.
func (sl *StyledLogger) InfoConnected(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.StateGood}.Sprint(server))
	sl.logger.Info(styledMsg, args...)
}

// InfoConnectionState logs a connection's current lifecycle state with the
// colour matching its health: running is good, failed/shutdown are bad,
// anything transitional is unknown.
func (sl *StyledLogger) InfoConnectionState(msg string, server string, state domain.ConnectionState, args ...any) {
	var stateColor pterm.Color
	switch state {
	case domain.StateRunning:
		stateColor = sl.theme.StateGood
	case domain.StateFailed, domain.StateShutdown:
		stateColor = sl.theme.StateBad
	default:
		stateColor = sl.theme.StateUnk
	}
	styledMsg := fmt.Sprintf("%s %s is %s", msg,
		pterm.Style{sl.theme.Server}.Sprint(server),
		pterm.Style{stateColor}.Sprint(state.String()))
	sl.logger.Info(styledMsg, args...)
}

func (sl *StyledLogger) WarnDegraded(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.StateUnk}.Sprint(server))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *StyledLogger) ErrorFailed(msg string, server string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, pterm.Style{sl.theme.StateBad}.Sprint(server))
	sl.logger.Error(styledMsg, args...)
}

// InfoWithFleetStats reports how many connections are running, recovering
// and failed at once, each coloured by health.
func (sl *StyledLogger) InfoWithFleetStats(msg string, running, recovering, failed int, args ...any) {
	runningStyled := pterm.Style{sl.theme.StateGood}.Sprint(running)
	recoveringStyled := pterm.Style{sl.theme.StateUnk}.Sprint(recovering)
	failedStyled := pterm.Style{sl.theme.StateBad}.Sprint(failed)

	allArgs := make([]any, 0, len(args)+6)
	allArgs = append(allArgs, args...)
	allArgs = append(allArgs,
		"running", runningStyled,
		"recovering", recoveringStyled,
		"failed", failedStyled,
	)

	sl.logger.Info(msg, allArgs...)
}

// GetUnderlying returns the underlying slog.Logger for cases where direct access is needed
func (sl *StyledLogger) GetUnderlying() *slog.Logger {
	return sl.logger
}

// WithAttrs creates a new StyledLogger with additional structured attributes
func (sl *StyledLogger) WithAttrs(attrs ...slog.Attr) *StyledLogger {
	// Convert slog.Attr to key-value pairs
	args := make([]any, 0, len(attrs)*2)
	for _, attr := range attrs {
		args = append(args, attr.Key, attr.Value)
	}

	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// With creates a new StyledLogger with additional key-value pairs
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

// Helper function to convert string slice to interface slice
func toInterfaceSlice(strs []string) []interface{} {
	result := make([]interface{}, len(strs))
	for i, s := range strs {
		result[i] = s
	}
	return result
}

// NewWithTheme creates both a regular logger and a styled logger
func NewWithTheme(cfg *Config) (*slog.Logger, *StyledLogger, func(), error) {
	logger, cleanup, err := New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	appTheme := theme.GetTheme(cfg.Theme)
	styledLogger := NewStyledLogger(logger, appTheme)

	return logger, styledLogger, cleanup, nil
}
