// Package platform translates a command line into the program and arguments
// that are actually launched on the host.
package platform

import (
	"fmt"
	"runtime"
	"strings"
)

// Kind selects how command lines are translated.
type Kind string

const (
	// Auto follows runtime.GOOS.
	Auto Kind = "auto"
	// Windows applies the mapping rules and marks cmd.exe built-ins.
	Windows Kind = "windows"
	// POSIX splits the command line and uses it verbatim.
	POSIX Kind = "posix"
)

// ParseKind parses a configured platform name. The empty string means Auto.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", Auto:
		return Auto, nil
	case Windows:
		return Windows, nil
	case POSIX:
		return POSIX, nil
	default:
		return "", fmt.Errorf("unknown platform %q (want auto, windows or posix)", s)
	}
}

// Host returns the Kind matching the running operating system.
func Host() Kind {
	if runtime.GOOS == "windows" {
		return Windows
	}
	return POSIX
}

// Match is how a Rule compares against a command line.
type Match string

const (
	// Exact matches the whole (whitespace-normalised) command line. The
	// mapped program is launched without arguments.
	Exact Match = "exact"
	// Command matches the first token only. The remaining tokens are kept as
	// arguments.
	Command Match = "command"
)

// Rule maps a POSIX-style command to its platform-native equivalent.
type Rule struct {
	Match Match
	From  string
	To    string
}

// WindowsRules is the built-in table consulted on the Windows path.
var WindowsRules = []Rule{
	{Match: Exact, From: "ls -la", To: "dir"},
	{Match: Command, From: "ls", To: "dir"},
	{Match: Command, From: "pwd", To: "cd"},
	{Match: Command, From: "rm", To: "del"},
	{Match: Command, From: "cp", To: "copy"},
	{Match: Command, From: "mv", To: "move"},
	{Match: Command, From: "cat", To: "type"},
}

// builtins are cmd.exe internal commands that have no executable on PATH.
var builtins = map[string]bool{
	"cd": true, "chdir": true, "cls": true, "copy": true, "date": true,
	"del": true, "dir": true, "echo": true, "erase": true, "md": true,
	"mkdir": true, "move": true, "rd": true, "ren": true, "rename": true,
	"rmdir": true, "set": true, "time": true, "type": true, "ver": true,
	"vol": true,
}

// Resolved is the program that will actually be launched.
type Resolved struct {
	Program string
	Args    []string
	Shell   bool // launch through the platform shell
}

// Mapper resolves command lines for one platform.
type Mapper struct {
	kind  Kind
	rules []Rule
}

// NewMapper returns a Mapper for kind. Extra rules are consulted before the
// built-in ones, in the order given. Auto is resolved against the host.
func NewMapper(kind Kind, extra ...Rule) *Mapper {
	if kind == "" || kind == Auto {
		kind = Host()
	}
	rules := make([]Rule, 0, len(extra)+len(WindowsRules))
	rules = append(rules, extra...)
	rules = append(rules, WindowsRules...)
	return &Mapper{kind: kind, rules: rules}
}

// Kind reports the platform the mapper resolves for.
func (m *Mapper) Kind() Kind {
	return m.kind
}

// Resolve splits commandLine on whitespace and translates it. Quoting is not
// interpreted: an argument containing spaces becomes several arguments.
// It returns false if commandLine holds no tokens.
func (m *Mapper) Resolve(commandLine string) (Resolved, bool) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return Resolved{}, false
	}
	if m.kind != Windows {
		return Resolved{Program: fields[0], Args: fields[1:]}, true
	}

	normalised := strings.Join(fields, " ")
	res, ok := m.lookup(Exact, normalised)
	if ok {
		return res, true
	}
	res, ok = m.lookup(Command, fields[0])
	if ok {
		res.Args = fields[1:]
		return res, true
	}
	// Mapping miss: pass the token through unchanged.
	return Resolved{
		Program: fields[0],
		Args:    fields[1:],
		Shell:   builtins[strings.ToLower(fields[0])],
	}, true
}

func (m *Mapper) lookup(match Match, key string) (Resolved, bool) {
	for _, r := range m.rules {
		if r.Match == match && r.From == key {
			return Resolved{
				Program: r.To,
				Args:    []string{},
				Shell:   builtins[strings.ToLower(r.To)],
			}, true
		}
	}
	return Resolved{}, false
}
