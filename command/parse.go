// Package command parses the one-line control grammar used by the shredctl
// CLI into bridge commands.
//
//	+ file.ck      add file.ck     spork a file
//	+ "code"       ! "code"        spork inline code
//	: file.ck                      spork a file
//	- N   -N       remove N        remove a shred
//	- all          remove all      remove every shred
//	~ N "code"     replace N file  replace a shred
//	?   ? N   ?g   ?a              list shreds, shred info, globals, audio
//	status   time   .              status and VM time
//	name::value    name[i]::value  set a global
//	name?          name["key"]?    get a global
//	name!          name!!          signal or broadcast an event
//	>   ||   X                     start audio, stop audio, shut down
//	clear   reset                  clear the VM, reset shred IDs
//	advance N                      run the VM for N frames
package command

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/chazu/shredctl/bridge"
	"github.com/chazu/shredctl/engine"
)

// ErrUnsupported is returned for commands that only make sense in the
// interactive editor.
var ErrUnsupported = errors.New("command needs the interactive editor")

type rule struct {
	re    *regexp.Regexp
	build func(m []string) (*bridge.Command, error)
}

const ident = `([A-Za-z_][A-Za-z0-9_]*)`

// selector matches an optional [index] or ["key"] after a global name.
const selector = `(?:\[\s*(\d+|"[^"]*"|'[^']*')\s*\])?`

func op(o bridge.Op) func([]string) (*bridge.Command, error) {
	return func([]string) (*bridge.Command, error) { return &bridge.Command{Op: o}, nil }
}

func unsupported(name string) func([]string) (*bridge.Command, error) {
	return func([]string) (*bridge.Command, error) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, name)
	}
}

var rules = []rule{
	{regexp.MustCompile(`^(?:add|\+)\s+(.+)$`), func(m []string) (*bridge.Command, error) {
		if code, ok := unquote(m[1]); ok {
			return &bridge.Command{Op: bridge.OpSpork, Code: code}, nil
		}
		return &bridge.Command{Op: bridge.OpSporkFile, Path: m[1]}, nil
	}},
	{regexp.MustCompile(`^(?:remove\s+|-\s*)all$`), op(bridge.OpRemoveAll)},
	{regexp.MustCompile(`^(?:remove\s+|-\s*)(\d+)$`), func(m []string) (*bridge.Command, error) {
		id, err := shredID(m[1])
		return &bridge.Command{Op: bridge.OpRemove, ID: id}, err
	}},
	{regexp.MustCompile(`^(?:replace\s+|~\s*)(\d+)\s+(.+)$`), func(m []string) (*bridge.Command, error) {
		id, err := shredID(m[1])
		if err != nil {
			return nil, err
		}
		if code, ok := unquote(m[2]); ok {
			return &bridge.Command{Op: bridge.OpReplace, ID: id, Code: code}, nil
		}
		return &bridge.Command{Op: bridge.OpReplaceFile, ID: id, Path: m[2]}, nil
	}},
	{regexp.MustCompile(`^:\s*(.+)$`), func(m []string) (*bridge.Command, error) {
		return &bridge.Command{Op: bridge.OpSporkFile, Path: m[1]}, nil
	}},
	{regexp.MustCompile(`^!\s*(.+)$`), func(m []string) (*bridge.Command, error) {
		code, ok := unquote(m[1])
		if !ok {
			code = m[1]
		}
		return &bridge.Command{Op: bridge.OpSpork, Code: code}, nil
	}},
	{regexp.MustCompile(`^\?$`), op(bridge.OpList)},
	{regexp.MustCompile(`^\?\s*(\d+)$`), func(m []string) (*bridge.Command, error) {
		id, err := shredID(m[1])
		return &bridge.Command{Op: bridge.OpInfo, ID: id}, err
	}},
	{regexp.MustCompile(`^\?g$`), op(bridge.OpListGlobals)},
	{regexp.MustCompile(`^(?:\?a|status)$`), op(bridge.OpStatus)},
	{regexp.MustCompile(`^(?:time|\.)$`), op(bridge.OpNow)},
	{regexp.MustCompile(`^>$`), op(bridge.OpStart)},
	{regexp.MustCompile(`^\|\|$`), op(bridge.OpStopAudio)},
	{regexp.MustCompile(`^X$`), op(bridge.OpShutdown)},
	{regexp.MustCompile(`^clear$`), op(bridge.OpClear)},
	{regexp.MustCompile(`^reset$`), op(bridge.OpResetID)},
	{regexp.MustCompile(`^advance\s+(\d+)$`), func(m []string) (*bridge.Command, error) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("%w: frame count %q", bridge.ErrInvalidArgument, m[1])
		}
		return &bridge.Command{Op: bridge.OpAdvance, Frames: n}, nil
	}},
	{regexp.MustCompile(`^` + ident + selector + `\s*::\s*(.+)$`), func(m []string) (*bridge.Command, error) {
		v, err := ParseValue(m[3])
		if err != nil {
			return nil, err
		}
		cmd := &bridge.Command{Op: bridge.OpSetGlobal, Name: m[1], Value: &v}
		return cmd, applySelector(cmd, m[2])
	}},
	{regexp.MustCompile(`^` + ident + selector + `\?$`), func(m []string) (*bridge.Command, error) {
		cmd := &bridge.Command{Op: bridge.OpGetGlobal, Name: m[1]}
		return cmd, applySelector(cmd, m[2])
	}},
	{regexp.MustCompile(`^` + ident + `!!$`), func(m []string) (*bridge.Command, error) {
		return &bridge.Command{Op: bridge.OpBroadcast, Name: m[1]}, nil
	}},
	{regexp.MustCompile(`^` + ident + `!$`), func(m []string) (*bridge.Command, error) {
		return &bridge.Command{Op: bridge.OpSignal, Name: m[1]}, nil
	}},

	{regexp.MustCompile(`^cls$`), unsupported("clear screen")},
	{regexp.MustCompile(`^@\w+$`), unsupported("snippets")},
	{regexp.MustCompile(`^edit\s*\d*$`), unsupported("editor")},
	{regexp.MustCompile(`^\$\s*.*$`), unsupported("shell")},
	{regexp.MustCompile(`^watch$`), unsupported("watch")},
}

// Parse turns one input line into a command. It returns nil and no error
// for blank input and for anything that is not a command, which callers
// treat as VM code.
func Parse(line string) (*bridge.Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.Contains(line, "\n") {
		return nil, nil
	}
	for _, r := range rules {
		if m := r.re.FindStringSubmatch(line); m != nil {
			return r.build(m)
		}
	}
	return nil, nil
}

// ParseValue parses a literal global value: an int, a float, a quoted
// string, or a bracketed list of ints or floats.
func ParseValue(s string) (engine.Value, error) {
	s = strings.TrimSpace(s)
	if str, ok := unquote(s); ok {
		return engine.StringValue(str), nil
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		return parseList(s[1 : len(s)-1])
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return engine.IntValue(n), nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return engine.FloatValue(f), nil
	}
	return engine.Value{}, fmt.Errorf("%w: cannot parse value %q", bridge.ErrInvalidArgument, s)
}

func parseList(body string) (engine.Value, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return engine.IntArrayValue(nil), nil
	}
	parts := strings.Split(body, ",")
	ints := make([]int64, 0, len(parts))
	floats := make([]float64, 0, len(parts))
	isFloat := false
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if n, err := strconv.ParseInt(p, 10, 64); err == nil {
			ints = append(ints, n)
			floats = append(floats, float64(n))
			continue
		}
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return engine.Value{}, fmt.Errorf("%w: cannot parse list element %q", bridge.ErrInvalidArgument, p)
		}
		isFloat = true
		floats = append(floats, f)
	}
	if isFloat {
		return engine.FloatArrayValue(floats), nil
	}
	return engine.IntArrayValue(ints), nil
}

func applySelector(cmd *bridge.Command, sel string) error {
	if sel == "" {
		return nil
	}
	if key, ok := unquote(sel); ok {
		if key == "" {
			return fmt.Errorf("%w: empty key", bridge.ErrInvalidArgument)
		}
		cmd.Key = key
		return nil
	}
	i, err := strconv.Atoi(sel)
	if err != nil {
		return fmt.Errorf("%w: index %q", bridge.ErrInvalidArgument, sel)
	}
	cmd.Index = &i
	return nil
}

func shredID(s string) (engine.ShredID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: shred id %q", bridge.ErrInvalidArgument, s)
	}
	return engine.ShredID(n), nil
}

// unquote strips matching single or double quotes.
func unquote(s string) (string, bool) {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1], true
	}
	return "", false
}
