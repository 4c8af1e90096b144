package compiler

import "fmt"

// CompileError is a fatal parse/codegen failure: it always carries the
// source line it was raised against, so the host shell can point at it.
type CompileError struct {
	Line    int
	Message string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

func errf(line int, format string, args ...interface{}) *CompileError {
	return &CompileError{Line: line, Message: fmt.Sprintf(format, args...)}
}
