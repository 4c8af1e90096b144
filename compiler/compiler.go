package compiler

import "optimuscore/instr"

// Result is the output of a full compile: the emitted bytecode, the
// interned data segment (printf/scanf format strings), and any non-fatal
// warnings surfaced along the way (unknown directives, ignored extra
// function definitions, and so on).
type Result struct {
	Bytecode []instr.Instruction
	Data     []byte
	Warnings []string
}

// Compile runs the full pipeline over src: preprocess, lex, expand
// object-like macros, parse and emit. It never runs the VM — it only ever
// produces a Result or a *CompileError.
func Compile(src string) (result Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			if ce, ok := r.(*CompileError); ok {
				err = ce
				return
			}
			panic(r)
		}
	}()

	pp := NewPreprocessor()
	preprocessed, ppWarnings, ppErr := pp.Run(src)
	if ppErr != nil {
		return Result{}, ppErr
	}

	toks := NewLexer(preprocessed).Tokens()
	toks = NewMacroExpander(pp.Defines()).Expand(toks)

	parser := NewParser(toks)
	if err := parser.Parse(); err != nil {
		return Result{}, err
	}

	warnings := append(append([]string{}, ppWarnings...), parser.warnings...)
	return Result{Bytecode: parser.Code, Data: parser.Data, Warnings: warnings}, nil
}
