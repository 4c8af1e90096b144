package compiler

import "fmt"

// TokenKind classifies a lexed token.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIdent
	TokNumber
	TokString
	TokCharLit

	// keywords
	TokInt
	TokFloat
	TokDouble
	TokChar
	TokVoid
	TokIf
	TokElse
	TokWhile
	TokDo
	TokFor
	TokSwitch
	TokCase
	TokDefault
	TokBreak
	TokContinue
	TokReturn
	TokPrintf
	TokScanf
	TokMalloc
	TokFree

	// math intrinsics
	TokSin
	TokCos
	TokTan
	TokSqrt
	TokPow
	TokAbs

	// punctuation / operators
	TokLParen
	TokRParen
	TokLBrace
	TokRBrace
	TokLBracket
	TokRBracket
	TokSemi
	TokComma
	TokAssign
	TokPlus
	TokMinus
	TokStar
	TokSlash
	TokPercent
	TokEq
	TokNeq
	TokLt
	TokGt
	TokLe
	TokGe
	TokNot
	TokAmp
	TokColon
)

var keywords = map[string]TokenKind{
	"int": TokInt, "float": TokFloat, "double": TokDouble, "char": TokChar, "void": TokVoid,
	"if": TokIf, "else": TokElse, "while": TokWhile, "do": TokDo, "for": TokFor,
	"switch": TokSwitch, "case": TokCase, "default": TokDefault,
	"break": TokBreak, "continue": TokContinue,
	"return": TokReturn, "printf": TokPrintf, "scanf": TokScanf,
	"malloc": TokMalloc, "free": TokFree,
	"sin": TokSin, "cos": TokCos, "tan": TokTan, "sqrt": TokSqrt, "pow": TokPow, "abs": TokAbs,
}

// Token is a single lexical unit: its kind, literal text, and source line
// (1-based) for diagnostics.
type Token struct {
	Kind  TokenKind
	Value string
	Line  int
}

func (t Token) String() string {
	return fmt.Sprintf("%d:%q", t.Kind, t.Value)
}
