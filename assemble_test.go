package bff

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func assembleAndRun(t *testing.T, source, stdin string) (*VM, string, string) {
	t.Helper()
	prog, err := Assemble(source)
	assert(t, err == nil, "Assemble failed: %v", err)

	var stdout, stderr bytes.Buffer
	vm := NewWithIO(strings.NewReader(stdin), &stdout, &stderr)
	loadErr := vm.LoadProgram(prog)
	assert(t, loadErr == nil, "LoadProgram failed: %v", loadErr)
	assert(t, vm.Run() == nil, "unexpected run error: %v", vm.Err())
	return vm, stdout.String(), stderr.String()
}

func TestAssembleArithmetic(t *testing.T) {
	vm, _, _ := assembleAndRun(t, `
		mov reg1 3
		mov reg2 4
		add u reg1 reg1 reg2
	`, "")
	assert(t, vm.Register(1) == 7, "registers[1] = %d, want 7", vm.Register(1))
}

func TestAssembleSignedArithmeticAndNegate(t *testing.T) {
	vm, _, _ := assembleAndRun(t, `
		mov reg1 5
		neg s reg2 reg1
		add s reg3 reg2 -10
	`, "")
	assert(t, vm.Register(2) == 0xFFFFFFFB, "registers[2] = %#x, want 0xFFFFFFFB", vm.Register(2))
	assert(t, int32(vm.Register(3)) == -15, "registers[3] as i32 = %d, want -15", int32(vm.Register(3)))
}

func TestAssembleFloatArithmetic(t *testing.T) {
	vm, _, _ := assembleAndRun(t, `
		mov reg1 1.5
		mov reg2 2.25
		add f reg3 reg1 reg2
	`, "")
	assert(t, imm32ToFloat(vm.Register(3)) == 3.75, "registers[3] as float = %v, want 3.75", imm32ToFloat(vm.Register(3)))
}

func TestAssembleLoop(t *testing.T) {
	// Counts reg1 up to 5 using jnz, leaving reg1 == 5.
	vm, _, _ := assembleAndRun(t, `
		mov reg1 0
	loop:
		add u reg1 reg1 1
		lt u reg2 reg1 5
		jnz reg2 loop
	`, "")
	assert(t, vm.Register(1) == 5, "registers[1] = %d, want 5", vm.Register(1))
}

func TestAssembleCallReturn(t *testing.T) {
	vm, _, _ := assembleAndRun(t, `
		call double
		jmp done
	double:
		mov reg1 21
		add u reg1 reg1 reg1
		ret
	done:
		nop
	`, "")
	assert(t, vm.Register(1) == 42, "registers[1] = %d, want 42", vm.Register(1))
}

func TestAssembleHelloWorldString(t *testing.T) {
	_, stdout, _ := assembleAndRun(t, `
		.string greeting "Hi"
		push 2
		push $greeting
		push 0
		push 1
		syscall
	`, "")
	assert(t, stdout == "Hi", "stdout = %q, want \"Hi\"", stdout)
}

// TestAssembleHelloWorldFixture assembles and runs the worked example
// under testdata/, following GVM's vm_test.go style of reading its
// example programs straight off disk rather than inlining them.
func TestAssembleHelloWorldFixture(t *testing.T) {
	source, err := os.ReadFile("testdata/hello.bffasm")
	assert(t, err == nil, "couldn't read testdata/hello.bffasm: %v", err)

	_, stdout, _ := assembleAndRun(t, string(source), "")
	assert(t, stdout == "Hello, World!", "stdout = %q, want \"Hello, World!\"", stdout)
}

func TestAssembleDisallowedFamilyCombinationsAreParseErrors(t *testing.T) {
	cases := []string{
		"neg u reg1 reg2",      // unsigned negate: no such opcode
		"shl s reg1 reg2 reg3", // signed shift: no such opcode
		"shr f reg1 reg2 reg3", // float shift: no such opcode
		"eq s reg1 reg2 reg3",  // signed equal: no such opcode
	}
	for _, src := range cases {
		_, err := Assemble(src)
		assert(t, err != nil, "expected a parse error for %q", src)
	}
}

func TestAssembleUndefinedLabelIsParseError(t *testing.T) {
	_, err := Assemble("jmp nowhere")
	assert(t, err != nil, "expected an error for a jump to an undefined label")
}

func TestAssembleUnknownMnemonicIsParseError(t *testing.T) {
	_, err := Assemble("frobnicate reg1 reg2")
	assert(t, err != nil, "expected an error for an unknown mnemonic")
}
