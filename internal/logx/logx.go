// Package logx is the daemon's console logger: a pterm-backed,
// chain-call event builder generalized from a scan-progress logger into a
// pool/backend/pipe-event logger.
package logx

import (
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"
)

type Logger struct {
	mu      sync.Mutex
	verbose bool
	debug   bool
}

var DefaultLogger *Logger

func init() {
	DefaultLogger = &Logger{}

	pterm.EnableDebugMessages()

	w := NewSafeWriter(os.Stdout)
	pterm.Info = *pterm.Info.WithWriter(w)
	pterm.Debug = *pterm.Debug.WithWriter(w)
	pterm.Error = *pterm.Error.WithWriter(w)
	pterm.Warning = *pterm.Warning.WithWriter(w)
	pterm.Success = *pterm.Success.WithWriter(w)
}

// Event is one in-progress log line: printer plus whatever the caller
// chains onto it (pool, backend name, VXID) before Msgf flushes it.
type Event struct {
	logger   *Logger
	printer  pterm.PrefixPrinter
	pool     string
	backend  string
	vxid     string
	metadata map[string]string
}

type SafeWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSafeWriter(w io.Writer) *SafeWriter { return &SafeWriter{w: w} }

func (sw *SafeWriter) Write(p []byte) (int, error) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	line := make([]byte, 0, len(p)+2)
	line = append(line, '\r')
	line = append(line, p...)
	if !bytes.HasSuffix(line, []byte("\n")) {
		line = append(line, '\n')
	}
	return sw.w.Write(line)
}

func (l *Logger) newEvent(printer pterm.PrefixPrinter) *Event {
	return &Event{logger: l, printer: printer, metadata: make(map[string]string)}
}

func Info() *Event    { return DefaultLogger.newEvent(pterm.Info) }
func Success() *Event { return DefaultLogger.newEvent(pterm.Success) }
func Error() *Event   { return DefaultLogger.newEvent(pterm.Error) }
func Warning() *Event { return DefaultLogger.newEvent(pterm.Warning) }

func Debug() *Event {
	if !DefaultLogger.IsDebugEnabled() {
		return nil
	}
	return DefaultLogger.newEvent(pterm.Debug)
}

func Verbose() *Event {
	if !DefaultLogger.IsVerboseEnabled() {
		return nil
	}
	return DefaultLogger.newEvent(pterm.Info)
}

func (e *Event) Msgf(format string, args ...any) {
	if e == nil {
		return
	}
	e.logger.mu.Lock()
	defer e.logger.mu.Unlock()

	var meta string
	for k, v := range e.metadata {
		meta += " " + pterm.Bold.Sprint(k) + "=" + v
	}

	var poolStr string
	if e.pool != "" {
		poolStr = pterm.FgCyan.Sprintf("[pool %s] ", e.pool)
	}
	var backendStr string
	if e.backend != "" {
		backendStr = pterm.FgMagenta.Sprintf("[%s] ", e.backend)
	}
	var vxidStr string
	if e.vxid != "" {
		vxidStr = pterm.FgYellow.Sprintf("[vxid=%s] ", e.vxid)
	}

	message := poolStr + backendStr + vxidStr + format + meta
	e.printer.Printfln(message, args...)
}

// Pool tags the event with a scheduler shard index.
func (e *Event) Pool(name string) *Event {
	if e == nil {
		return nil
	}
	e.pool = name
	return e
}

// Backend tags the event with a backend name.
func (e *Event) Backend(name string) *Event {
	if e == nil {
		return nil
	}
	e.backend = name
	return e
}

// VXID tags the event with a request/session identifier.
func (e *Event) VXID(id string) *Event {
	if e == nil {
		return nil
	}
	e.vxid = id
	return e
}

func (e *Event) Metadata(key, value string) *Event {
	if e == nil {
		return nil
	}
	e.metadata[key] = value
	return e
}

func (l *Logger) EnableDebug()   { l.mu.Lock(); l.debug = true; l.mu.Unlock() }
func (l *Logger) EnableVerbose() { l.mu.Lock(); l.verbose = true; l.mu.Unlock() }

func (l *Logger) IsDebugEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debug
}

func (l *Logger) IsVerboseEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verbose
}

func EnableDebug()          { DefaultLogger.EnableDebug() }
func EnableVerbose()        { DefaultLogger.EnableVerbose() }
func IsDebugEnabled() bool  { return DefaultLogger.IsDebugEnabled() }
func IsVerboseEnabled() bool { return DefaultLogger.IsVerboseEnabled() }
