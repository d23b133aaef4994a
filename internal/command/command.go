// Package command parses a single line of user input into a tokenized
// command ready for dispatch against the Segment Store. It never touches
// the store itself.
package command

import (
	"errors"
	"strings"

	shellquote "github.com/kballard/go-shellquote"
)

// Name identifies a recognized command.
type Name string

const (
	Insert Name = "insert"
	Get    Name = "get"
	Delete Name = "delete"
	Merge  Name = "merge"
	Stats  Name = "stats"
	Help   Name = "help"
	Exit   Name = "exit"
)

// ErrEmptyLine is returned by Parse for blank or whitespace-only input.
var ErrEmptyLine = errors.New("command: empty line")

// ErrUnknownCommand is returned by Parse when the first token is not a
// recognized command name.
var ErrUnknownCommand = errors.New("command: unknown command")

// ErrWrongArgCount is returned by Parse when a recognized command is
// given the wrong number of arguments.
var ErrWrongArgCount = errors.New("command: wrong number of arguments")

// Command is a parsed, ready-to-dispatch user line.
type Command struct {
	Name Name
	Args []string
}

var arity = map[Name]int{
	Insert: 2,
	Get:    1,
	Delete: 1,
	Merge:  0,
	Stats:  0,
	Help:   0,
	Exit:   0,
}

// Parse tokenizes line using shell-style quoting — so `insert K "two
// words"` and `insert K 'two words'` produce a single two-token Args
// slice for insert — and validates the token count against the command's
// arity. Tokenization, not classification, is the only quoting-aware
// part; unknown commands and arity mismatches are reported as errors
// rather than panics so the event loop can print them and keep running.
func Parse(line string) (Command, error) {
	if strings.TrimSpace(line) == "" {
		return Command{}, ErrEmptyLine
	}

	tokens, err := shellquote.Split(line)
	if err != nil {
		return Command{}, errors.New("command: " + err.Error())
	}
	if len(tokens) == 0 {
		return Command{}, ErrEmptyLine
	}

	name := Name(strings.ToLower(tokens[0]))
	want, ok := arity[name]
	if !ok {
		return Command{}, ErrUnknownCommand
	}

	var args []string
	if len(tokens) > 1 {
		args = tokens[1:]
	}
	if len(args) != want {
		return Command{}, ErrWrongArgCount
	}

	return Command{Name: name, Args: args}, nil
}
