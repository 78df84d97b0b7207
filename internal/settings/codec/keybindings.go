package codec

import (
	"errors"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Binding is a single keybinding entry as stored in keybindings.toml.
type Binding struct {
	// Key is the chord that triggers the command, e.g. "Ctrl+N".
	Key string `toml:"key"`

	// Command is the dotted command identifier, e.g. "task.new".
	Command string `toml:"command"`

	// When is an optional boolean context expression.
	When string `toml:"when,omitempty"`

	// Args are optional fixed arguments passed to the command.
	Args map[string]any `toml:"args,omitempty"`
}

// Clone returns a deep copy of the binding.
func (b Binding) Clone() Binding {
	out := b
	if b.Args != nil {
		out.Args = make(map[string]any, len(b.Args))
		for k, v := range b.Args {
			out.Args[k] = v
		}
	}
	return out
}

// Group returns the binding's display group: the first dot-segment of the
// command identifier.
func (b Binding) Group() string {
	if idx := strings.Index(b.Command, "."); idx > 0 {
		return b.Command[:idx]
	}
	return b.Command
}

// bindingsFile mirrors the on-disk shape of keybindings.toml.
type bindingsFile struct {
	Keybindings []Binding `toml:"keybindings"`
}

// DecodeKeybindings parses a keybindings file. Entries missing key or
// command are dropped; when two entries share a key the later one wins.
func DecodeKeybindings(text []byte) ([]Binding, error) {
	return DecodeKeybindingsFile("", text)
}

// DecodeKeybindingsFile is DecodeKeybindings with the originating path
// recorded on any error.
func DecodeKeybindingsFile(path string, text []byte) ([]Binding, error) {
	var file bindingsFile
	if err := toml.Unmarshal(text, &file); err != nil {
		pe := &ParseError{
			Path:      path,
			Diagnosis: diagnose(err),
			Err:       err,
		}
		var de *toml.DecodeError
		if errors.As(err, &de) {
			pe.Line, pe.Column = de.Position()
		}
		return nil, pe
	}
	return NormalizeBindings(file.Keybindings), nil
}

// NormalizeBindings drops entries missing key or command and keeps at most
// one binding per literal key value, last write wins. Relative order of the
// surviving entries follows their final occurrence.
func NormalizeBindings(in []Binding) []Binding {
	seen := make(map[string]int, len(in))
	out := make([]Binding, 0, len(in))
	for _, b := range in {
		if b.Key == "" || b.Command == "" {
			continue
		}
		if idx, dup := seen[b.Key]; dup {
			out[idx] = b.Clone()
			continue
		}
		seen[b.Key] = len(out)
		out = append(out, b.Clone())
	}
	return out
}

// EncodeKeybindings regenerates keybindings.toml wholesale. Entries are
// grouped into commented sections by the first dot-segment of the command;
// groups are emitted alphabetically and entries keep their relative order
// within a group.
func EncodeKeybindings(bindings []Binding) []byte {
	var b strings.Builder
	b.WriteString("# TaskDeck keybindings\n")
	b.WriteString("# This file is regenerated on every change; formatting is not preserved.\n")
	b.WriteString("# key: chord such as \"Ctrl+N\"; command: dotted identifier;\n")
	b.WriteString("# when: optional context expression; args: optional command arguments.\n")

	groups := make(map[string][]Binding)
	names := make([]string, 0)
	for _, kb := range bindings {
		g := kb.Group()
		if _, ok := groups[g]; !ok {
			names = append(names, g)
		}
		groups[g] = append(groups[g], kb)
	}
	sort.Strings(names)

	for _, name := range names {
		b.WriteString("\n# " + name + "\n")
		for _, kb := range groups[name] {
			b.WriteString("\n[[keybindings]]\n")
			b.WriteString("key = " + FormatValue(kb.Key) + "\n")
			b.WriteString("command = " + FormatValue(kb.Command) + "\n")
			if kb.When != "" {
				b.WriteString("when = " + FormatValue(kb.When) + "\n")
			}
			if len(kb.Args) > 0 {
				b.WriteString("args = " + FormatValue(kb.Args) + "\n")
			}
		}
	}

	return []byte(b.String())
}
