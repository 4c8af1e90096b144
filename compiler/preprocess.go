package compiler

import "strings"

// Preprocessor runs the line-oriented #define/#ifdef/#ifndef/#endif pass
// over source text. Per spec.md §4.1 it only ever blanks directive lines
// and records macro names — it never substitutes a macro's uses inline;
// that is MacroExpander's job, one layer up, operating on tokens instead
// of raw text. It tracks nested conditional blocks with a stack of
// booleans (one entry per open #ifdef/#ifndef) rather than the teacher's
// single-level MACRO/MEND state, since C-style conditionals nest.
type Preprocessor struct {
	defines map[string]string
	emit    []bool // emission-stack: true while emitting inside the Nth nesting level
}

// NewPreprocessor returns a Preprocessor with no macros defined yet.
func NewPreprocessor() *Preprocessor {
	return &Preprocessor{defines: make(map[string]string)}
}

// emitting reports whether the current nesting level should pass lines
// through; an empty stack means we're at the top level and always emitting.
func (p *Preprocessor) emitting() bool {
	for _, e := range p.emit {
		if !e {
			return false
		}
	}
	return true
}

// Defines returns the object-like macro table accumulated while running —
// MacroExpander consumes this to do the actual token substitution.
func (p *Preprocessor) Defines() map[string]string {
	return p.defines
}

// Run executes the preprocessor over src line by line, returning the
// rewritten text (same line count as src — directive lines and lines
// inside a suppressed #ifdef/#ifndef block become blank so downstream line
// numbers stay accurate) and any non-fatal warnings. An unterminated
// #ifdef/#ifndef at EOF is a fatal error, not a warning, per the
// directive-nesting contract.
func (p *Preprocessor) Run(src string) (string, []string, error) {
	var out []string
	var warnings []string
	lines := strings.Split(src, "\n")

	for _, raw := range lines {
		trimmed := strings.TrimSpace(raw)
		if strings.HasPrefix(trimmed, "#") {
			p.directive(trimmed, &warnings)
			out = append(out, "")
			continue
		}
		if !p.emitting() {
			out = append(out, "")
			continue
		}
		out = append(out, raw)
	}

	if len(p.emit) != 0 {
		return "", nil, errf(len(lines), "unterminated #ifdef/#ifndef: missing #endif")
	}
	return strings.Join(out, "\n"), warnings, nil
}

func (p *Preprocessor) directive(line string, warnings *[]string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "#define":
		if len(fields) < 2 {
			*warnings = append(*warnings, "#define with no name")
			return
		}
		if !p.emitting() {
			return
		}
		name := fields[1]
		body := "1"
		if len(fields) > 2 {
			body = strings.Join(fields[2:], " ")
		}
		p.defines[name] = body
	case "#ifdef":
		_, ok := p.defines[safeField(fields, 1)]
		p.emit = append(p.emit, ok)
	case "#ifndef":
		_, ok := p.defines[safeField(fields, 1)]
		p.emit = append(p.emit, !ok)
	case "#endif":
		if len(p.emit) == 0 {
			*warnings = append(*warnings, "#endif with no matching #ifdef/#ifndef")
			return
		}
		p.emit = p.emit[:len(p.emit)-1]
	case "#include":
		// intentionally unsupported: treated as inert, blanked like any
		// other directive line.
	default:
		*warnings = append(*warnings, "unknown directive: "+fields[0])
	}
}

func safeField(fields []string, i int) string {
	if i < len(fields) {
		return fields[i]
	}
	return ""
}
