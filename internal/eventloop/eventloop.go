// Package eventloop implements the single-threaded cooperative dispatcher
// described in §4.3: one goroutine turns stdin bytes into readiness
// events on a channel, and the Loop's Run method is the sole consumer of
// that channel and the sole caller into the Segment Store, serializing
// user commands and scheduled merges onto one logical thread of control.
package eventloop

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/abhiw/bitcask/internal/command"
	"github.com/abhiw/bitcask/internal/store"
)

// DefaultAutoMergeInterval matches the ~30s design constant of §6.
const DefaultAutoMergeInterval = 30 * time.Second

// Store is the subset of *store.Store the loop dispatches against.
type Store interface {
	Insert(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Merge() error
	Stats() (store.Stats, error)
	Close() error
}

// Loop owns stdin/stdout and the Store for the lifetime of the process.
type Loop struct {
	store   Store
	in      io.Reader
	out     io.Writer
	logger  *zap.Logger
	mergeAt time.Duration
}

// Option configures a Loop.
type Option func(*Loop)

// WithAutoMergeInterval overrides the periodic merge timer.
func WithAutoMergeInterval(d time.Duration) Option {
	return func(l *Loop) { l.mergeAt = d }
}

// WithIO overrides the default os.Stdin/os.Stdout, primarily for tests.
func WithIO(in io.Reader, out io.Writer) Option {
	return func(l *Loop) { l.in, l.out = in, out }
}

// WithLogger overrides the loop's structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New builds a Loop over s. Call Run to start dispatching.
func New(s Store, opts ...Option) *Loop {
	l := &Loop{
		store:   s,
		in:      os.Stdin,
		out:     os.Stdout,
		logger:  zap.NewNop(),
		mergeAt: DefaultAutoMergeInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// line carries one stdin readiness event: a complete line, or a read
// error (including a clean EOF).
type line struct {
	text string
	err  error
}

// Run drives the loop until stdin is closed, the exit command is
// received, or a SIGINT/SIGTERM arrives. It returns the exit code the
// caller should pass to os.Exit (matching §6's "0 on clean shutdown").
//
// This is the idiomatic Go analogue of registering stdin with an
// mio::Poll: a single reader goroutine turns blocking Read calls into
// readiness events on a channel, and this select loop — the only
// goroutine that ever touches the Store — is the thing doing the actual
// polling.
func (l *Loop) Run() int {
	lines := make(chan line)
	go l.readLines(lines)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(l.mergeAt)
	defer ticker.Stop()

	for {
		select {
		case ln, ok := <-lines:
			if !ok {
				l.shutdown()
				return 0
			}
			if ln.err != nil {
				if !errors.Is(ln.err, io.EOF) {
					l.logger.Error("stdin read failed", zap.Error(ln.err))
				}
				l.shutdown()
				return 0
			}
			if exit := l.dispatch(ln.text); exit {
				l.shutdown()
				return 0
			}

		case <-ticker.C:
			if err := l.store.Merge(); err != nil {
				l.logger.Error("scheduled merge failed", zap.Error(err))
			}

		case <-sigCh:
			l.shutdown()
			return 0
		}
	}
}

// readLines feeds complete newline-delimited lines from l.in into out,
// then closes out once the reader is exhausted. It never touches the
// Store — it is the I/O-only producer side of the readiness channel.
func (l *Loop) readLines(out chan<- line) {
	defer close(out)

	scanner := bufio.NewScanner(l.in)
	for scanner.Scan() {
		out <- line{text: scanner.Text()}
	}
	if err := scanner.Err(); err != nil {
		out <- line{err: err}
	}
}

// dispatch runs one command line against the Store synchronously and
// writes its response. It returns true when the loop should shut down.
func (l *Loop) dispatch(text string) (exit bool) {
	cmd, err := command.Parse(text)
	if err != nil {
		if errors.Is(err, command.ErrEmptyLine) {
			return false
		}
		fmt.Fprintln(l.out, err)
		return false
	}

	switch cmd.Name {
	case command.Insert:
		l.handleInsert(cmd.Args[0], cmd.Args[1])
	case command.Get:
		l.handleGet(cmd.Args[0])
	case command.Delete:
		l.handleDelete(cmd.Args[0])
	case command.Merge:
		l.handleMerge()
	case command.Stats:
		l.handleStats()
	case command.Help:
		l.handleHelp()
	case command.Exit:
		return true
	}
	return false
}

func (l *Loop) handleInsert(key, value string) {
	if err := l.store.Insert([]byte(key), []byte(value)); err != nil {
		l.fatal(err)
		return
	}
	fmt.Fprintf(l.out, "inserted %s\n", key)
}

func (l *Loop) handleGet(key string) {
	value, err := l.store.Get([]byte(key))
	if errors.Is(err, store.ErrKeyNotFound) {
		fmt.Fprintln(l.out, "not found")
		return
	}
	if err != nil {
		l.fatal(err)
		return
	}
	fmt.Fprintf(l.out, "%s: %s\n", key, value)
}

func (l *Loop) handleDelete(key string) {
	err := l.store.Delete([]byte(key))
	if errors.Is(err, store.ErrKeyNotFound) {
		fmt.Fprintln(l.out, "not found")
		return
	}
	if err != nil {
		l.fatal(err)
		return
	}
	fmt.Fprintf(l.out, "deleted %s\n", key)
}

func (l *Loop) handleMerge() {
	if err := l.store.Merge(); err != nil {
		fmt.Fprintf(l.out, "merge failed: %v\n", err)
		l.logger.Warn("manual merge failed", zap.Error(err))
		return
	}
	fmt.Fprintln(l.out, "merge complete")
}

func (l *Loop) handleStats() {
	stats, err := l.store.Stats()
	if err != nil {
		l.fatal(err)
		return
	}
	fmt.Fprintf(l.out, "%d files, %d bytes, %d entries, %d ops\n",
		stats.Segments, stats.Bytes, stats.Entries, stats.Ops)
}

func (l *Loop) handleHelp() {
	fmt.Fprintln(l.out, `commands:
  insert KEY VALUE   store a value (quote VALUE to include spaces)
  get KEY            fetch a value
  delete KEY         remove a value
  merge              compact sealed segments now
  stats              report storage statistics
  help               show this text
  exit               shut down`)
}

// fatal reports an unrecoverable I/O error and terminates the process.
// §7 requires this: once append or index-read I/O fails, the index and
// disk may have diverged, so continuing to serve requests is unsafe.
func (l *Loop) fatal(err error) {
	l.logger.Error("fatal storage error", zap.Error(err))
	fmt.Fprintf(l.out, "fatal error: %v\n", err)
	l.shutdown()
	os.Exit(1)
}

func (l *Loop) shutdown() {
	if err := l.store.Close(); err != nil {
		l.logger.Warn("error closing store", zap.Error(err))
	}
}
