package bff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AssembleError carries a line/column position, per spec.md section 7's
// requirement that parse errors report where they happened.
type AssembleError struct {
	Line   int
	Column int
	Msg    string
}

func (e *AssembleError) Error() string {
	return fmt.Sprintf("bff: %d:%d: %s", e.Line, e.Column, e.Msg)
}

func parseErr(lineNum int, line, tok, msg string) *AssembleError {
	col := strings.Index(line, tok) + 1
	if col <= 0 {
		col = 1
	}
	return &AssembleError{Line: lineNum, Column: col, Msg: msg}
}

var registerPattern = regexp.MustCompile(`^[a-zA-Z]{3}(\d+)$`)
var labelDeclPattern = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*):$`)

// parseRegister strips the mandatory three-character prefix (conventionally
// "reg") from a register mnemonic and parses the remaining decimal index,
// per spec.md section 4.3.
func parseRegister(tok string) (byte, bool) {
	m := registerPattern.FindStringSubmatch(tok)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n < 0 || n >= RegisterCount {
		return 0, false
	}
	return byte(n), true
}

func isFloatLexeme(tok string) bool {
	return strings.ContainsAny(tok, ".eE") && !strings.HasPrefix(tok, "0x")
}

func isSignedLexeme(tok string) bool {
	return strings.HasPrefix(tok, "-")
}

// literalBits parses tok under the typing rule for family ('u', 's', or
// 'f'), returning the raw bit pattern to store as an immediate. See
// spec.md section 4.3's "Numeric literal rules".
func literalBits(family byte, tok string) (uint32, error) {
	switch family {
	case 'u':
		if isSignedLexeme(tok) || isFloatLexeme(tok) {
			return 0, fmt.Errorf("unsigned literal %q must be base-10 digits", tok)
		}
		v, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("malformed unsigned literal %q", tok)
		}
		return uint32(v), nil
	case 's':
		if isFloatLexeme(tok) {
			return 0, fmt.Errorf("signed literal %q must not contain a decimal point", tok)
		}
		v, err := strconv.ParseInt(tok, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("malformed signed literal %q", tok)
		}
		return uint32(int32(v)), nil
	case 'f':
		v, err := strconv.ParseFloat(tok, 32)
		if err != nil {
			return 0, fmt.Errorf("malformed float literal %q", tok)
		}
		return floatToImm32(float32(v)), nil
	default:
		return 0, fmt.Errorf("internal: unknown family %q", family)
	}
}

// untypedLiteralBits is used where the textual form carries no explicit
// family tag (Move/Push immediates): the literal's own lexical class
// decides unsigned vs signed vs float, per spec.md section 4.3.
func untypedLiteralBits(tok string) (uint32, error) {
	switch {
	case isFloatLexeme(tok):
		return literalBits('f', tok)
	case isSignedLexeme(tok):
		return literalBits('s', tok)
	default:
		return literalBits('u', tok)
	}
}

// familyTriad holds the (reg-variant, immediate-variant) opcode pair for
// one numeric family of one mnemonic.
type familyTriad struct {
	reg, imm Opcode
}

// arithmeticFamilies maps mnemonic -> family tag -> opcode pair, for the
// mnemonics that take an explicit u/s/f family tag (add, sub, mul, div,
// mod, gt, lt, ge, le carry all three; eq/ne carry only u; not/and/or/
// xor/shl/shr carry only u; neg carries only s/f). This table is the
// data-driven collapse spec.md section 9 asks for instead of ~95
// hand-written match arms.
var arithmeticFamilies = map[string]map[byte]familyTriad{
	"add": {'u': {OpAdd, OpAddImmediate}, 's': {OpSignedAdd, OpSignedAddImmediate}, 'f': {OpFloatAdd, OpFloatAddImmediate}},
	"sub": {'u': {OpSub, OpSubImmediate}, 's': {OpSignedSub, OpSignedSubImmediate}, 'f': {OpFloatSub, OpFloatSubImmediate}},
	"mul": {'u': {OpMul, OpMulImmediate}, 's': {OpSignedMul, OpSignedMulImmediate}, 'f': {OpFloatMul, OpFloatMulImmediate}},
	"div": {'u': {OpDiv, OpDivImmediate}, 's': {OpSignedDiv, OpSignedDivImmediate}, 'f': {OpFloatDiv, OpFloatDivImmediate}},
	"mod": {'u': {OpMod, OpModImmediate}, 's': {OpSignedMod, OpSignedModImmediate}, 'f': {OpFloatMod, OpFloatModImmediate}},
	"gt":  {'u': {OpGreaterThan, OpGreaterThanImmediate}, 's': {OpSignedGreaterThan, OpSignedGreaterThanImmediate}, 'f': {OpFloatGreaterThan, OpFloatGreaterThanImmediate}},
	"lt":  {'u': {OpLessThan, OpLessThanImmediate}, 's': {OpSignedLessThan, OpSignedLessThanImmediate}, 'f': {OpFloatLessThan, OpFloatLessThanImmediate}},
	"ge":  {'u': {OpGreaterEqual, OpGreaterEqualImmediate}, 's': {OpSignedGreaterEqual, OpSignedGreaterEqualImmediate}, 'f': {OpFloatGreaterEqual, OpFloatGreaterEqualImmediate}},
	"le":  {'u': {OpLessEqual, OpLessEqualImmediate}, 's': {OpSignedLessEqual, OpSignedLessEqualImmediate}, 'f': {OpFloatLessEqual, OpFloatLessEqualImmediate}},
	"eq":  {'u': {OpEqual, OpEqualImmediate}},
	"ne":  {'u': {OpNotEqual, OpNotEqualImmediate}},
	"not": {'u': {OpNot, OpNotImmediate}},
	"and": {'u': {OpAnd, OpAndImmediate}},
	"or":  {'u': {OpOr, OpOrImmediate}},
	"xor": {'u': {OpXor, OpXorImmediate}},
	"shl": {'u': {OpShiftLeft, OpShiftLeftImmediate}},
	"shr": {'u': {OpShiftRight, OpShiftRightImmediate}},
	"neg": {'s': {OpSignedNegate, OpSignedNegateImmediate}, 'f': {OpFloatNegate, OpFloatNegateImmediate}},
}

// divModFamilies mirrors arithmeticFamilies for the 4-operand
// DivMod/DivModImmediate triad.
var divModFamilies = map[byte]familyTriad{
	'u': {OpDivMod, OpDivModImmediate},
	's': {OpSignedDivMod, OpSignedDivModImmediate},
	'f': {OpFloatDivMod, OpFloatDivModImmediate},
}

// pendingKind distinguishes a resolved Instruction from the three
// placeholder shapes pass 2 must still resolve against the label table.
type pendingKind int

const (
	pendingInstruction pendingKind = iota
	pendingJump
	pendingJumpNotZero
	pendingCall
)

type pending struct {
	kind   pendingKind
	instr  Instruction // valid when kind == pendingInstruction
	reg    byte        // condition register, for pendingJumpNotZero
	label  string
	line   int
}

// Assembler runs the two-pass BFFASM assembly described in spec.md
// section 4.3: pass 1 builds an intermediate list plus a label table
// while parsing; pass 2 resolves every deferred jump/jnz/call against
// that table. Grounded on original_source's assembly/src/parser.rs
// (BffAsmParser), restructured around Go's regexp/strings instead of a
// pest grammar since the textual surface is ours to define.
type Assembler struct {
	pendings      []pending
	labels        map[string]uint32
	strings       []StringTableEntry
	stringSymbols map[string]uint32
	nextStringAddr uint32
}

// Assemble parses BFFASM source text into a Program ready for WriteBFO.
func Assemble(source string) (Program, error) {
	a := &Assembler{
		labels:        map[string]uint32{},
		stringSymbols: map[string]uint32{},
	}
	if err := a.pass1(source); err != nil {
		return Program{}, err
	}
	instrs, err := a.pass2()
	if err != nil {
		return Program{}, err
	}
	return Program{Version: Version, Strings: a.strings, Instructions: instrs}, nil
}

func stripComment(line string) string {
	if i := strings.Index(line, "//"); i >= 0 {
		line = line[:i]
	}
	if i := strings.Index(line, ";"); i >= 0 {
		line = line[:i]
	}
	return line
}

func (a *Assembler) pass1(source string) error {
	for lineNum, raw := range strings.Split(source, "\n") {
		lineNum++ // 1-indexed for error messages
		line := strings.TrimSpace(stripComment(raw))
		if line == "" {
			continue
		}

		if m := labelDeclPattern.FindStringSubmatch(line); m != nil {
			a.labels[m[1]] = uint32(len(a.pendings) + 1)
			continue
		}

		if strings.HasPrefix(line, ".string") {
			if err := a.parseStringDirective(lineNum, line); err != nil {
				return err
			}
			continue
		}

		fields := strings.Fields(line)
		if err := a.parseInstruction(lineNum, line, fields); err != nil {
			return err
		}
	}
	return nil
}

func (a *Assembler) parseStringDirective(lineNum int, line string) error {
	// .string name "literal text"
	rest := strings.TrimSpace(strings.TrimPrefix(line, ".string"))
	open := strings.Index(rest, `"`)
	closeQuote := strings.LastIndex(rest, `"`)
	if open < 0 || closeQuote <= open {
		return parseErr(lineNum, line, rest, "malformed .string directive, expected: .string name \"text\"")
	}
	name := strings.TrimSpace(rest[:open])
	if name == "" {
		return parseErr(lineNum, line, rest, ".string directive is missing a symbol name")
	}
	value := rest[open+1 : closeQuote]

	addr := a.nextStringAddr
	a.stringSymbols[name] = addr
	a.strings = append(a.strings, StringTableEntry{Address: addr, Value: value})
	a.nextStringAddr += uint32(len(value))
	return nil
}

func (a *Assembler) resolveImmediateOperand(tok string) (uint32, bool) {
	if addr, ok := a.stringSymbols[strings.TrimPrefix(tok, "$")]; ok && strings.HasPrefix(tok, "$") {
		return addr, true
	}
	return 0, false
}

func (a *Assembler) parseInstruction(lineNum int, line string, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	mnemonic := fields[0]
	args := fields[1:]

	switch mnemonic {
	case "nop":
		a.emit(Instruction{Op: OpNop})
		return nil
	case "ret":
		a.emit(Instruction{Op: OpReturn})
		return nil
	case "syscall":
		a.emit(Instruction{Op: OpSystemCall})
		return nil
	}

	if triad, ok := arithmeticFamilies[mnemonic]; ok {
		return a.parseFamilyOp(lineNum, line, mnemonic, triad, args)
	}

	switch mnemonic {
	case "divmod":
		return a.parseDivMod(lineNum, line, args)
	case "mov":
		return a.parseMove(lineNum, line, args)
	case "push":
		return a.parsePush(lineNum, line, args)
	case "pop":
		return a.parsePop(lineNum, line, args)
	case "jmp":
		return a.parseJump(lineNum, line, args)
	case "jnz":
		return a.parseJumpNotZero(lineNum, line, args)
	case "call":
		return a.parseCall(lineNum, line, args)
	case "store":
		return a.parseStore(lineNum, line, args)
	case "load":
		return a.parseLoad(lineNum, line, args)
	}

	return parseErr(lineNum, line, mnemonic, fmt.Sprintf("unknown mnemonic %q", mnemonic))
}

func (a *Assembler) emit(instr Instruction) {
	a.pendings = append(a.pendings, pending{kind: pendingInstruction, instr: instr})
}

// parseFamilyOp handles every 3-register-or-2-register-plus-immediate
// mnemonic that carries a family tag: add/sub/mul/div/mod/gt/lt/ge/le
// (u,s,f legal), eq/ne/not/and/or/xor/shl/shr (u only legal), neg (s,f
// only legal, dst + one operand instead of two).
func (a *Assembler) parseFamilyOp(lineNum int, line, mnemonic string, triad map[byte]familyTriad, args []string) error {
	if len(args) < 2 {
		return parseErr(lineNum, line, mnemonic, fmt.Sprintf("%q requires a family tag and operands", mnemonic))
	}
	family := args[0]
	if len(family) != 1 {
		return parseErr(lineNum, line, family, "family tag must be a single character: u, s, or f")
	}
	ops, ok := triad[family[0]]
	if !ok {
		return parseErr(lineNum, line, family, fmt.Sprintf("%q does not support family %q", mnemonic, family))
	}

	rest := args[1:]
	if mnemonic == "not" || mnemonic == "neg" {
		if len(rest) != 2 {
			return parseErr(lineNum, line, mnemonic, fmt.Sprintf("%q takes a destination register and one operand", mnemonic))
		}
		dst, ok := parseRegister(rest[0])
		if !ok {
			return parseErr(lineNum, line, rest[0], "expected a destination register")
		}
		return a.emitRegOrImm(lineNum, line, rest[1], family[0], ops, func(b byte) Instruction {
			return Instruction{Op: ops.reg, A: dst, B: b}
		}, func(imm uint32) Instruction {
			return Instruction{Op: ops.imm, A: dst, Imm: imm}
		})
	}

	if len(rest) != 3 {
		return parseErr(lineNum, line, mnemonic, fmt.Sprintf("%q takes a destination and two operands", mnemonic))
	}
	dst, ok := parseRegister(rest[0])
	if !ok {
		return parseErr(lineNum, line, rest[0], "expected a destination register")
	}
	lhs, ok := parseRegister(rest[1])
	if !ok {
		return parseErr(lineNum, line, rest[1], "expected a register operand")
	}
	return a.emitRegOrImm(lineNum, line, rest[2], family[0], ops, func(b byte) Instruction {
		return Instruction{Op: ops.reg, A: dst, B: lhs, C: b}
	}, func(imm uint32) Instruction {
		return Instruction{Op: ops.imm, A: dst, B: lhs, Imm: imm}
	})
}

func (a *Assembler) emitRegOrImm(lineNum int, line, tok string, family byte, ops familyTriad, withReg func(byte) Instruction, withImm func(uint32) Instruction) error {
	if reg, ok := parseRegister(tok); ok {
		a.emit(withReg(reg))
		return nil
	}
	bits, err := literalBits(family, tok)
	if err != nil {
		return parseErr(lineNum, line, tok, err.Error())
	}
	a.emit(withImm(bits))
	return nil
}

func (a *Assembler) parseDivMod(lineNum int, line string, args []string) error {
	if len(args) != 5 {
		return parseErr(lineNum, line, "divmod", "divmod requires a family tag and four operands")
	}
	family := args[0]
	ops, ok := divModFamilies[family[0]]
	if len(family) != 1 || !ok {
		return parseErr(lineNum, line, family, "divmod does not support that family")
	}
	divDst, ok1 := parseRegister(args[1])
	modDst, ok2 := parseRegister(args[2])
	lhs, ok3 := parseRegister(args[3])
	if !ok1 || !ok2 || !ok3 {
		return parseErr(lineNum, line, args[1], "divmod requires three destination/operand registers")
	}
	return a.emitRegOrImm(lineNum, line, args[4], family[0], ops, func(b byte) Instruction {
		return Instruction{Op: ops.reg, A: divDst, B: modDst, C: lhs, D: b}
	}, func(imm uint32) Instruction {
		return Instruction{Op: ops.imm, A: divDst, B: modDst, C: lhs, Imm: imm}
	})
}

func (a *Assembler) parseMove(lineNum int, line string, args []string) error {
	if len(args) != 2 {
		return parseErr(lineNum, line, "mov", "mov takes a destination register and a source")
	}
	dst, ok := parseRegister(args[0])
	if !ok {
		return parseErr(lineNum, line, args[0], "expected a destination register")
	}
	if src, ok := parseRegister(args[1]); ok {
		a.emit(Instruction{Op: OpMove, A: dst, B: src})
		return nil
	}
	if addr, ok := a.resolveImmediateOperand(args[1]); ok {
		a.emit(Instruction{Op: OpMoveImmediate, A: dst, Imm: addr})
		return nil
	}
	bits, err := untypedLiteralBits(args[1])
	if err != nil {
		return parseErr(lineNum, line, args[1], err.Error())
	}
	a.emit(Instruction{Op: OpMoveImmediate, A: dst, Imm: bits})
	return nil
}

func (a *Assembler) parsePush(lineNum int, line string, args []string) error {
	if len(args) != 1 {
		return parseErr(lineNum, line, "push", "push takes exactly one operand")
	}
	if reg, ok := parseRegister(args[0]); ok {
		a.emit(Instruction{Op: OpPush, A: reg})
		return nil
	}
	if addr, ok := a.resolveImmediateOperand(args[0]); ok {
		a.emit(Instruction{Op: OpPushImmediate, Imm: addr})
		return nil
	}
	bits, err := untypedLiteralBits(args[0])
	if err != nil {
		return parseErr(lineNum, line, args[0], err.Error())
	}
	a.emit(Instruction{Op: OpPushImmediate, Imm: bits})
	return nil
}

func (a *Assembler) parsePop(lineNum int, line string, args []string) error {
	if len(args) != 1 {
		return parseErr(lineNum, line, "pop", "pop takes exactly one destination register")
	}
	dst, ok := parseRegister(args[0])
	if !ok {
		return parseErr(lineNum, line, args[0], "expected a destination register")
	}
	a.emit(Instruction{Op: OpPop, A: dst})
	return nil
}

func (a *Assembler) parseJump(lineNum int, line string, args []string) error {
	if len(args) != 1 {
		return parseErr(lineNum, line, "jmp", "jmp takes exactly one target")
	}
	if reg, ok := parseRegister(args[0]); ok {
		a.emit(Instruction{Op: OpJump, A: reg})
		return nil
	}
	a.pendings = append(a.pendings, pending{kind: pendingJump, label: args[0], line: lineNum})
	return nil
}

func (a *Assembler) parseJumpNotZero(lineNum int, line string, args []string) error {
	if len(args) != 2 {
		return parseErr(lineNum, line, "jnz", "jnz takes a condition register and a target")
	}
	cond, ok := parseRegister(args[0])
	if !ok {
		return parseErr(lineNum, line, args[0], "expected a condition register")
	}
	if target, ok := parseRegister(args[1]); ok {
		a.emit(Instruction{Op: OpJumpNotZero, A: cond, B: target})
		return nil
	}
	a.pendings = append(a.pendings, pending{kind: pendingJumpNotZero, reg: cond, label: args[1], line: lineNum})
	return nil
}

func (a *Assembler) parseCall(lineNum int, line string, args []string) error {
	if len(args) != 1 {
		return parseErr(lineNum, line, "call", "call takes exactly one label")
	}
	a.pendings = append(a.pendings, pending{kind: pendingCall, label: args[0], line: lineNum})
	return nil
}

// parseStore/parseLoad translate the human-friendly byte-count width
// token (4, 2, or 1) into the on-disk subtractive width code (0, 2, 3)
// described in spec.md section 4.4, so nobody has to hand-write the
// legacy codes.
func widthCodeFromByteCount(tok string) (byte, bool) {
	switch tok {
	case "4":
		return 0, true
	case "2":
		return 2, true
	case "1":
		return 3, true
	default:
		return 0, false
	}
}

func (a *Assembler) parseStore(lineNum int, line string, args []string) error {
	if len(args) != 3 {
		return parseErr(lineNum, line, "store", "store takes an address, a source register, and a width")
	}
	var addr uint32
	if resolved, ok := a.resolveImmediateOperand(args[0]); ok {
		addr = resolved
	} else {
		v, err := strconv.ParseUint(args[0], 10, 32)
		if err != nil {
			return parseErr(lineNum, line, args[0], "expected a numeric memory address")
		}
		addr = uint32(v)
	}
	src, ok := parseRegister(args[1])
	if !ok {
		return parseErr(lineNum, line, args[1], "expected a source register")
	}
	width, ok := widthCodeFromByteCount(args[2])
	if !ok {
		return parseErr(lineNum, line, args[2], "width must be 4, 2, or 1")
	}
	a.emit(Instruction{Op: OpStore, Imm: addr, A: src, B: width})
	return nil
}

func (a *Assembler) parseLoad(lineNum int, line string, args []string) error {
	if len(args) != 3 {
		return parseErr(lineNum, line, "load", "load takes a destination, an address register, and a width")
	}
	dst, ok := parseRegister(args[0])
	if !ok {
		return parseErr(lineNum, line, args[0], "expected a destination register")
	}
	addrReg, ok := parseRegister(args[1])
	if !ok {
		return parseErr(lineNum, line, args[1], "expected an address register")
	}
	width, ok := widthCodeFromByteCount(args[2])
	if !ok {
		return parseErr(lineNum, line, args[2], "width must be 4, 2, or 1")
	}
	a.emit(Instruction{Op: OpLoad, A: dst, B: addrReg, C: width})
	return nil
}

// pass2 resolves every deferred jump/jnz/call against the label table
// built during pass 1, exactly mirroring original_source's final loop in
// assembly/src/parser.rs.
func (a *Assembler) pass2() ([]Instruction, error) {
	instrs := make([]Instruction, 0, len(a.pendings))
	for _, p := range a.pendings {
		switch p.kind {
		case pendingInstruction:
			instrs = append(instrs, p.instr)
		case pendingJump:
			addr, ok := a.labels[p.label]
			if !ok {
				return nil, &AssembleError{Line: p.line, Column: 1, Msg: fmt.Sprintf("undefined label %q", p.label)}
			}
			instrs = append(instrs, Instruction{Op: OpJumpImmediate, Imm: addr})
		case pendingJumpNotZero:
			addr, ok := a.labels[p.label]
			if !ok {
				return nil, &AssembleError{Line: p.line, Column: 1, Msg: fmt.Sprintf("undefined label %q", p.label)}
			}
			instrs = append(instrs, Instruction{Op: OpJumpNotZeroImmediate, A: p.reg, Imm: addr})
		case pendingCall:
			addr, ok := a.labels[p.label]
			if !ok {
				return nil, &AssembleError{Line: p.line, Column: 1, Msg: fmt.Sprintf("undefined label %q", p.label)}
			}
			instrs = append(instrs, Instruction{Op: OpCall, Imm: addr})
		}
	}
	return instrs, nil
}
