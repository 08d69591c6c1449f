package ui

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/sup-oac/oactree"
	"github.com/sup-oac/oactree/value"
)

// plainLogger is the default Logger: a thin wrapper over the standard
// library logger, tagging each line with accumulated key/value context.
type plainLogger struct {
	prefix string
	std    *log.Logger
}

// NewLogger constructs the default stdlib-backed Logger.
func NewLogger() Logger {
	return plainLogger{std: log.New(os.Stdout, "", log.LstdFlags)}
}

func (l plainLogger) With(key string, value any) Logger {
	tag := fmt.Sprintf("%s=%v", key, value)
	prefix := tag
	if l.prefix != "" {
		prefix = l.prefix + " " + tag
	}
	return plainLogger{prefix: prefix, std: l.std}
}

func (l plainLogger) Info(msg string, args ...any) {
	l.log("INFO", msg, args...)
}

func (l plainLogger) Error(msg string, args ...any) {
	l.log("ERROR", msg, args...)
}

func (l plainLogger) log(level, msg string, args ...any) {
	line := strings.Builder{}
	line.WriteString(level)
	line.WriteString(": ")
	if l.prefix != "" {
		line.WriteString(l.prefix)
		line.WriteString(" ")
	}
	line.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&line, " %v=%v", args[i], args[i+1])
	}
	l.std.Print(line.String())
}

var severityColor = map[oactree.LogSeverity]*color.Color{
	oactree.SeverityDebug:   color.New(color.FgHiBlack),
	oactree.SeverityInfo:    color.New(color.FgCyan),
	oactree.SeverityWarning: color.New(color.FgYellow),
	oactree.SeverityError:   color.New(color.FgRed, color.Bold),
}

// ConsoleUserInterface is the reference UserInterface: it prints
// instruction status changes and messages to stdout (colorized by
// severity), prompts interactively on stdin for Input/UserConfirmation/
// UserChoice instructions, and reports a TickSummary to its instrumentation
// chain after every StartSingleStep/EndSingleStep bracket (§4.9).
type ConsoleUserInterface struct {
	out      *sync.Mutex
	logger   Logger
	observer Observer
	scanner  *bufio.Scanner

	mu            sync.Mutex
	procedureName string
	tick          uint64
	stepStart     time.Time
}

// NewConsoleUserInterface constructs a console UI using cfg's
// instrumentation chain (structured logging / Prometheus / SigNoz, any
// combination) to observe each root tick.
func NewConsoleUserInterface(procedureName string, cfg InstrumentationConfig) *ConsoleUserInterface {
	logger := cfg.Observation.StructuredLogger
	if logger == nil {
		logger = NewLogger()
	}
	return &ConsoleUserInterface{
		out:           &sync.Mutex{},
		logger:        logger,
		observer:      buildObserverChain(logger, cfg),
		scanner:       bufio.NewScanner(os.Stdin),
		procedureName: procedureName,
	}
}

func (c *ConsoleUserInterface) UpdateInstructionStatus(instr oactree.Instruction, oldStatus, newStatus oactree.ExecutionStatus) {
	c.out.Lock()
	defer c.out.Unlock()
	fmt.Printf("[%s] %s: %s -> %s\n", instr.Type(), instr.Name(), oldStatus, newStatus)
}

func (c *ConsoleUserInterface) StartSingleStep() {
	c.mu.Lock()
	c.stepStart = time.Now()
	c.mu.Unlock()
}

func (c *ConsoleUserInterface) EndSingleStep() {
	c.mu.Lock()
	elapsed := time.Since(c.stepStart)
	c.tick++
	tick := c.tick
	name := c.procedureName
	c.mu.Unlock()
	c.observer.TickCompleted(TickSummary{
		ProcedureName: name,
		Tick:          tick,
		Duration:      elapsed,
	})
}

func (c *ConsoleUserInterface) Message(text string) {
	c.out.Lock()
	defer c.out.Unlock()
	fmt.Println(text)
}

func (c *ConsoleUserInterface) Log(severity oactree.LogSeverity, text string) {
	c.out.Lock()
	paint := severityColor[severity]
	if paint != nil {
		paint.Printf("[%s] %s\n", severity, text)
	} else {
		fmt.Printf("[%s] %s\n", severity, text)
	}
	c.out.Unlock()
	switch severity {
	case oactree.SeverityError:
		c.logger.Error(text)
	default:
		c.logger.Info(text)
	}
}

func (c *ConsoleUserInterface) PutValue(v value.Value, description string) bool {
	c.out.Lock()
	defer c.out.Unlock()
	s, err := renderValue(v)
	if err != nil {
		return false
	}
	if description != "" {
		fmt.Printf("%s: %s\n", description, s)
	} else {
		fmt.Println(s)
	}
	return true
}

// GetInterruptableUserValue blocks reading one line from stdin, polling the
// owner's halt flag between attempts so a concurrent Halt aborts promptly.
func (c *ConsoleUserInterface) GetInterruptableUserValue(owner oactree.Instruction, prototype value.Value, description string) (bool, value.Value) {
	c.out.Lock()
	if description != "" {
		fmt.Printf("%s: ", description)
	}
	c.out.Unlock()

	line, ok := c.readLineInterruptable(owner)
	if !ok {
		return false, value.Value{}
	}
	parsed, err := value.FromLiteralString(nil, prototype.Type(), line)
	if err != nil {
		return false, value.Value{}
	}
	return true, parsed
}

func (c *ConsoleUserInterface) readLineInterruptable(owner oactree.Instruction) (string, bool) {
	lines := make(chan string, 1)
	go func() {
		if c.scanner.Scan() {
			lines <- c.scanner.Text()
		}
		close(lines)
	}()
	const pollQuantum = 50 * time.Millisecond
	for {
		select {
		case line, ok := <-lines:
			return line, ok
		case <-time.After(pollQuantum):
			if haltObserver, ok := owner.(interface{ Halted() bool }); ok && haltObserver.Halted() {
				return "", false
			}
		}
	}
}

// consoleChoiceFuture resolves a user choice read from stdin on a
// background goroutine; IsReady/GetValue never block, so the engine can
// poll it cooperatively between ticks (§4.9).
type consoleChoiceFuture struct {
	mu    sync.Mutex
	ready bool
	value int
}

func (c *ConsoleUserInterface) CreateUserChoiceFuture(owner oactree.Instruction, options []string, metadata map[string]string) oactree.ChoiceFuture {
	future := &consoleChoiceFuture{value: -1}
	c.out.Lock()
	for i, opt := range options {
		fmt.Printf("  [%d] %s\n", i, opt)
	}
	c.out.Unlock()
	go func() {
		line, ok := c.readLineInterruptable(owner)
		if !ok {
			return
		}
		idx, err := strconv.Atoi(strings.TrimSpace(line))
		if err != nil || idx < 0 || idx >= len(options) {
			return
		}
		future.mu.Lock()
		future.value = idx
		future.ready = true
		future.mu.Unlock()
	}()
	return future
}

func (f *consoleChoiceFuture) IsReady() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ready
}

func (f *consoleChoiceFuture) GetValue() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value
}

func renderValue(v value.Value) (string, error) {
	switch v.Kind() {
	case value.KindString:
		return v.AsString()
	case value.KindBool:
		b, err := v.AsBool()
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	default:
		if f, err := v.AsFloat64(); err == nil {
			return strconv.FormatFloat(f, 'g', -1, 64), nil
		}
		data, err := v.MarshalJSON()
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
