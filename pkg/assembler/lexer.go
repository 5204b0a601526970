package assembler

import (
	"strings"
	"unicode"

	"github.com/akhildatla/sim86/pkg/vm"
)

// TokenType represents the type of a token.
type TokenType uint8

const (
	TokenEOF TokenType = iota
	TokenNewline
	TokenIdent    // Mnemonics, labels, directives
	TokenInt      // Decimal or 0x-prefixed hex literals
	TokenReg      // al..bh, ax..di
	TokenSize     // byte, word
	TokenComma    // ,
	TokenColon    // : (for labels)
	TokenLBracket // [
	TokenRBracket // ]
	TokenPlus     // +
	TokenMinus    // -
)

// String returns the string representation of a token type.
func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenNewline:
		return "NEWLINE"
	case TokenIdent:
		return "IDENT"
	case TokenInt:
		return "INT"
	case TokenReg:
		return "REG"
	case TokenSize:
		return "SIZE"
	case TokenComma:
		return "COMMA"
	case TokenColon:
		return "COLON"
	case TokenLBracket:
		return "LBRACKET"
	case TokenRBracket:
		return "RBRACKET"
	case TokenPlus:
		return "PLUS"
	case TokenMinus:
		return "MINUS"
	default:
		return "UNKNOWN"
	}
}

// Token represents a lexical token.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

// Lexer tokenizes 8086 assembly source code.
type Lexer struct {
	input  string
	pos    int
	line   int
	tokens []Token
}

// NewLexer creates a new lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{
		input:  input,
		pos:    0,
		line:   1,
		tokens: []Token{},
	}
}

// Tokenize tokenizes the entire input and returns the tokens.
func (l *Lexer) Tokenize() []Token {
	for l.pos < len(l.input) {
		l.skipWhitespace()
		if l.pos >= len(l.input) {
			break
		}

		ch := l.input[l.pos]

		switch {
		case ch == '\n':
			l.emit(TokenNewline, "\n")
			l.line++
			l.pos++

		case ch == ';':
			// Comment - skip to end of line
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.pos++
			}

		case ch == ',':
			l.emit(TokenComma, ",")
			l.pos++

		case ch == ':':
			l.emit(TokenColon, ":")
			l.pos++

		case ch == '[':
			l.emit(TokenLBracket, "[")
			l.pos++

		case ch == ']':
			l.emit(TokenRBracket, "]")
			l.pos++

		case ch == '+':
			l.emit(TokenPlus, "+")
			l.pos++

		case ch == '-':
			l.emit(TokenMinus, "-")
			l.pos++

		case unicode.IsDigit(rune(ch)):
			l.scanNumber()

		case unicode.IsLetter(rune(ch)) || ch == '_' || ch == '.':
			l.scanIdent()

		default:
			// Unknown character, skip it
			l.pos++
		}
	}

	l.emit(TokenEOF, "")
	return l.tokens
}

func (l *Lexer) emit(t TokenType, value string) {
	l.tokens = append(l.tokens, Token{Type: t, Value: value, Line: l.line})
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if ch == ' ' || ch == '\t' || ch == '\r' {
			l.pos++
		} else {
			break
		}
	}
}

// scanNumber accepts decimal and 0x-prefixed hex. Validation of the digits
// is left to the parser.
func (l *Lexer) scanNumber() {
	start := l.pos
	for l.pos < len(l.input) {
		ch := rune(l.input[l.pos])
		if unicode.IsDigit(ch) || unicode.IsLetter(ch) {
			l.pos++
		} else {
			break
		}
	}
	l.emit(TokenInt, l.input[start:l.pos])
}

func (l *Lexer) scanIdent() {
	start := l.pos

	// First character
	l.pos++

	// Continue with alphanumeric, underscore or dot
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if unicode.IsLetter(rune(ch)) || unicode.IsDigit(rune(ch)) || ch == '_' || ch == '.' {
			l.pos++
		} else {
			break
		}
	}

	value := l.input[start:l.pos]
	l.emit(classifyIdent(value), value)
}

func classifyIdent(value string) TokenType {
	lower := strings.ToLower(value)
	if lower == "byte" || lower == "word" {
		return TokenSize
	}
	if _, ok := vm.LookupRegister(lower); ok {
		return TokenReg
	}
	return TokenIdent
}
