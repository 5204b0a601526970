package assembler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/akhildatla/sim86/pkg/vm"
)

// OperandType represents the type of an operand.
type OperandType uint8

const (
	OperandReg OperandType = iota
	OperandMem
	OperandImm
	OperandLabel
)

// Operand represents an instruction operand.
type Operand struct {
	Type  OperandType
	Reg   vm.Register    // For registers
	Base  vm.AddressBase // For memory; BaseDirect when no registers
	Disp  int64          // Memory displacement or direct address
	Imm   int64          // For immediates and numeric branch offsets
	Label string         // For label references
}

// AsmInstruction represents a parsed assembly instruction.
type AsmInstruction struct {
	Mnemonic string
	Operands []Operand
	Size     int // explicit byte (1) or word (2) specifier, 0 if none
	Line     int
}

// AsmProgram represents a parsed assembly program.
type AsmProgram struct {
	Instructions []AsmInstruction
	Labels       map[string]int // label -> instruction index
}

// Parser parses 8086 assembly source code.
type Parser struct {
	tokens  []Token
	pos     int
	program *AsmProgram
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	lexer := NewLexer(input)
	tokens := lexer.Tokenize()
	return &Parser{
		tokens: tokens,
		pos:    0,
		program: &AsmProgram{
			Instructions: []AsmInstruction{},
			Labels:       make(map[string]int),
		},
	}
}

// Parse parses the entire input and returns the program.
func (p *Parser) Parse() (*AsmProgram, error) {
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		switch tok.Type {
		case TokenEOF:
			return p.program, nil

		case TokenNewline:
			p.pos++

		case TokenIdent:
			if p.peek(1).Type == TokenColon {
				if err := p.defineLabel(tok); err != nil {
					return nil, err
				}
				p.pos += 2
				continue
			}
			if strings.EqualFold(tok.Value, "bits") {
				if err := p.parseBits(); err != nil {
					return nil, err
				}
				continue
			}
			inst, err := p.parseInstruction()
			if err != nil {
				return nil, err
			}
			p.program.Instructions = append(p.program.Instructions, inst)

		default:
			return nil, fmt.Errorf("line %d: %w: %q", tok.Line, ErrUnexpectedToken, tok.Value)
		}
	}

	return p.program, nil
}

func (p *Parser) peek(n int) Token {
	if p.pos+n < len(p.tokens) {
		return p.tokens[p.pos+n]
	}
	return Token{Type: TokenEOF}
}

func (p *Parser) defineLabel(tok Token) error {
	name := strings.ToLower(tok.Value)
	if _, dup := p.program.Labels[name]; dup {
		return fmt.Errorf("line %d: %w: %s", tok.Line, ErrDuplicateLabel, tok.Value)
	}
	p.program.Labels[name] = len(p.program.Instructions)
	return nil
}

// parseBits accepts the "bits 16" directive, the only mode supported.
func (p *Parser) parseBits() error {
	line := p.tokens[p.pos].Line
	p.pos++
	tok := p.peek(0)
	if tok.Type != TokenInt || tok.Value != "16" {
		return fmt.Errorf("line %d: %w: bits %s", line, ErrUnsupportedDirective, tok.Value)
	}
	p.pos++
	return nil
}

func (p *Parser) parseInstruction() (AsmInstruction, error) {
	inst := AsmInstruction{
		Mnemonic: strings.ToLower(p.tokens[p.pos].Value),
		Line:     p.tokens[p.pos].Line,
		Operands: []Operand{},
	}
	p.pos++ // Consume mnemonic

	// Parse operands until newline or EOF
	for p.pos < len(p.tokens) {
		tok := p.tokens[p.pos]

		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			break
		}

		if tok.Type == TokenComma {
			p.pos++
			continue
		}

		if tok.Type == TokenSize {
			inst.Size = 1
			if strings.EqualFold(tok.Value, "word") {
				inst.Size = 2
			}
			p.pos++
			continue
		}

		operand, err := p.parseOperand()
		if err != nil {
			return inst, err
		}
		inst.Operands = append(inst.Operands, operand)
	}

	return inst, nil
}

func (p *Parser) parseOperand() (Operand, error) {
	tok := p.tokens[p.pos]

	switch tok.Type {
	case TokenReg:
		reg, _ := vm.LookupRegister(strings.ToLower(tok.Value))
		p.pos++
		return Operand{Type: OperandReg, Reg: reg}, nil

	case TokenInt, TokenMinus, TokenPlus:
		v, err := p.parseSignedInt()
		if err != nil {
			return Operand{}, err
		}
		return Operand{Type: OperandImm, Imm: v}, nil

	case TokenLBracket:
		return p.parseMemory()

	case TokenIdent:
		p.pos++
		return Operand{Type: OperandLabel, Label: strings.ToLower(tok.Value)}, nil

	default:
		return Operand{}, fmt.Errorf("line %d: %w: %q", tok.Line, ErrUnexpectedToken, tok.Value)
	}
}

// parseSignedInt parses an integer with any number of leading signs.
func (p *Parser) parseSignedInt() (int64, error) {
	negative := false
	for {
		tok := p.peek(0)
		switch tok.Type {
		case TokenMinus:
			negative = !negative
			p.pos++
			continue
		case TokenPlus:
			p.pos++
			continue
		case TokenInt:
			v, err := parseInt(tok)
			if err != nil {
				return 0, err
			}
			p.pos++
			if negative {
				v = -v
			}
			return v, nil
		default:
			return 0, fmt.Errorf("line %d: %w: %q", tok.Line, ErrUnexpectedToken, tok.Value)
		}
	}
}

func parseInt(tok Token) (int64, error) {
	s := strings.ToLower(tok.Value)
	var v int64
	var err error
	if strings.HasPrefix(s, "0x") {
		v, err = strconv.ParseInt(s[2:], 16, 64)
	} else {
		v, err = strconv.ParseInt(s, 10, 64)
	}
	if err != nil {
		return 0, fmt.Errorf("line %d: %w: %s", tok.Line, ErrInvalidNumber, tok.Value)
	}
	return v, nil
}

// parseMemory parses "[" term {(+|-) term} "]" where a term is one of bx,
// bp, si, di or an integer.
func (p *Parser) parseMemory() (Operand, error) {
	open := p.tokens[p.pos]
	p.pos++ // Consume [

	var regs []string
	var disp int64
	negative := false
	for {
		tok := p.peek(0)
		switch tok.Type {
		case TokenRBracket:
			p.pos++
			base, ok := addressBase(regs)
			if !ok {
				return Operand{}, fmt.Errorf("line %d: %w: [%s]", open.Line, ErrInvalidAddress, strings.Join(regs, " + "))
			}
			return Operand{Type: OperandMem, Base: base, Disp: disp}, nil

		case TokenPlus:
			p.pos++

		case TokenMinus:
			negative = !negative
			p.pos++

		case TokenReg:
			if negative {
				return Operand{}, fmt.Errorf("line %d: %w: subtracted register %s", tok.Line, ErrInvalidAddress, tok.Value)
			}
			regs = append(regs, strings.ToLower(tok.Value))
			p.pos++

		case TokenInt:
			v, err := parseInt(tok)
			if err != nil {
				return Operand{}, err
			}
			if negative {
				v = -v
			}
			disp += v
			negative = false
			p.pos++

		default:
			return Operand{}, fmt.Errorf("line %d: %w: unterminated memory operand", open.Line, ErrInvalidAddress)
		}
	}
}

// addressBase maps the registers of a memory operand to an r/m base.
func addressBase(regs []string) (vm.AddressBase, bool) {
	has := map[string]bool{}
	for _, r := range regs {
		if has[r] {
			return 0, false
		}
		has[r] = true
	}
	switch {
	case len(regs) == 0:
		return vm.BaseDirect, true
	case len(regs) == 2 && has["bx"] && has["si"]:
		return vm.BaseBXSI, true
	case len(regs) == 2 && has["bx"] && has["di"]:
		return vm.BaseBXDI, true
	case len(regs) == 2 && has["bp"] && has["si"]:
		return vm.BaseBPSI, true
	case len(regs) == 2 && has["bp"] && has["di"]:
		return vm.BaseBPDI, true
	case len(regs) == 1 && has["si"]:
		return vm.BaseSI, true
	case len(regs) == 1 && has["di"]:
		return vm.BaseDI, true
	case len(regs) == 1 && has["bp"]:
		return vm.BaseBP, true
	case len(regs) == 1 && has["bx"]:
		return vm.BaseBX, true
	default:
		return 0, false
	}
}
