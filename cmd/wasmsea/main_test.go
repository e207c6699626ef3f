package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"

	"github.com/you-not-fish/wasmsea/internal/wasm"
)

func countdownModule() []byte {
	return wasm.Encode(&wasm.Module{Funcs: []*wasm.Function{
		wasm.NewFunction("countdown", 1,
			wasm.I(wasm.OpLoop),
			wasm.LocalGet(0), wasm.Const(1), wasm.I(wasm.OpI32Sub), wasm.LocalSet(0),
			wasm.LocalGet(0), wasm.Const(0), wasm.I(wasm.OpI32GtS), wasm.BrIf(0),
			wasm.I(wasm.OpEnd),
			wasm.LocalGet(0),
		),
	}})
}

// writeModule writes a module file into a temporary directory and returns
// the directory.
func writeModule(t *testing.T, data []byte, ops ...fs.PathOp) *fs.Dir {
	t.Helper()
	ops = append([]fs.PathOp{fs.WithFile("in.wasm", string(data))}, ops...)
	dir := fs.NewDir(t, "wasmsea", ops...)
	t.Cleanup(dir.Remove)
	return dir
}

func execute(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := runMain(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunCountdown(t *testing.T) {
	dir := writeModule(t, countdownModule())
	code, stdout, stderr := execute("--validate", "--run", "5", dir.Join("in.wasm"))
	assert.Equal(t, code, exitOK, stderr)

	for _, want := range []string{
		"== countdown ==",
		"func countdown (1 params):",
		"graph countdown (1 params, 16 nodes):",
		"validate: ok",
		"run countdown = 0 (steps 32, loop iterations 5, back-edges 4)",
	} {
		assert.Check(t, is.Contains(stdout, want))
	}
	assert.Check(t, !strings.Contains(stdout, "diagnostic(s)"))
}

func TestRunNoArgs(t *testing.T) {
	dir := writeModule(t, countdownModule())
	_, stdout, _ := execute("--run", "", dir.Join("in.wasm"))
	assert.Check(t, is.Contains(stdout, "run countdown: "))
	assert.Check(t, is.Contains(stdout, "wants 1 argument(s), got 0"))
}

func TestDOT(t *testing.T) {
	dir := writeModule(t, countdownModule())
	code, stdout, _ := execute("--dot", dir.Join("in.wasm"))
	assert.Equal(t, code, exitOK)
	assert.Check(t, is.Contains(stdout, `digraph "countdown" {`))
}

func TestSaveIR(t *testing.T) {
	dir := writeModule(t, countdownModule())
	out := dir.Join("ir")
	code, stdout, stderr := execute("--save-ir", out, dir.Join("in.wasm"))
	assert.Equal(t, code, exitOK, stderr)

	path := filepath.Join(out, "countdown.ir")
	assert.Check(t, is.Contains(stdout, "saved "+path))
	data, err := os.ReadFile(path)
	assert.NilError(t, err)
	assert.Check(t, strings.HasPrefix(string(data), "; wasmsea graph countdown: 1 params, 16 nodes, start %1\n"))
}

func TestDump(t *testing.T) {
	dir := writeModule(t, countdownModule())
	code, stdout, _ := execute("--dump-after", "lower", "--verify", dir.Join("in.wasm"))
	assert.Equal(t, code, exitOK)
	assert.Check(t, is.Contains(stdout, "--- after lower (countdown) ---"))
	assert.Check(t, !strings.Contains(stdout, "--- after build"))

	_, stdout, _ = execute("--dump-after", "*", "--dump-func", "other", dir.Join("in.wasm"))
	assert.Check(t, !strings.Contains(stdout, "--- after"))
}

func TestConfig(t *testing.T) {
	cfg := `validate = true
run = "5"
max-steps = 1000

[dump]
after = "build"
`
	dir := writeModule(t, countdownModule(), fs.WithFile("wasmsea.toml", cfg))

	code, stdout, stderr := execute("--config", dir.Join("wasmsea.toml"), dir.Join("in.wasm"))
	assert.Equal(t, code, exitOK, stderr)
	assert.Check(t, is.Contains(stdout, "validate: ok"))
	assert.Check(t, is.Contains(stdout, "--- after build (countdown) ---"))
	assert.Check(t, is.Contains(stdout, "run countdown = 0"))

	// Flags win over the file.
	_, stdout, _ = execute("--config", dir.Join("wasmsea.toml"), "--max-steps", "10", dir.Join("in.wasm"))
	assert.Check(t, is.Contains(stdout, "step limit exhausted"))
}

func TestErrors(t *testing.T) {
	dir := writeModule(t, []byte("not a module"), fs.WithFile("bad.toml", "validate = [\n"))
	good := writeModule(t, countdownModule())

	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"missing input", []string{dir.Join("nope.wasm")}, exitNotFound, "not found"},
		{"bad magic", []string{dir.Join("in.wasm")}, exitInvalid, "bad magic"},
		{"no input", nil, exitError, "accepts 1 arg(s)"},
		{"unknown flag", []string{"--nope", good.Join("in.wasm")}, exitError, "unknown flag"},
		{"bad run arg", []string{"--run", "1,x", good.Join("in.wasm")}, exitInvalid, `bad argument "x"`},
		{"too large", []string{"--max-input-size", "8", good.Join("in.wasm")}, exitInvalid, "larger than"},
		{"bad log level", []string{"--log-level", "loud", good.Join("in.wasm")}, exitInvalid, "loud"},
		{"missing config", []string{"--config", dir.Join("nope.toml"), good.Join("in.wasm")}, exitNotFound, "config"},
		{"bad config", []string{"--config", dir.Join("bad.toml"), good.Join("in.wasm")}, exitInvalid, "bad.toml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(tt.args...)
			assert.Check(t, is.Equal(code, tt.code))
			assert.Check(t, is.Contains(stderr, tt.msg))
		})
	}
}

func TestDiagnosticsReported(t *testing.T) {
	data := wasm.Encode(&wasm.Module{Funcs: []*wasm.Function{
		wasm.NewFunction("under", 0, wasm.I(wasm.OpI32Add)),
	}})
	dir := writeModule(t, data)
	code, stdout, _ := execute("--validate", dir.Join("in.wasm"))
	assert.Equal(t, code, exitOK)
	assert.Check(t, is.Contains(stdout, "diagnostic(s):"))
	assert.Check(t, is.Contains(stdout, "validate: FAILED"))
}

func TestIRFileName(t *testing.T) {
	assert.Equal(t, irFileName("main"), "main.ir")
	assert.Equal(t, irFileName("a/b"), "a_b.ir")
	assert.Equal(t, irFileName(".."), "func.ir")
}
