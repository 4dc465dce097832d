package logparse

import (
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseGoTestFailure(t *testing.T) {
	log := `=== RUN   TestAdd
--- FAIL: TestAdd (0.00s)
    calc_test.go:27: Add(2, 3) = 6, want 5
=== RUN   TestSub
--- PASS: TestSub (0.00s)
FAIL
FAIL	example.com/calc	0.014s`

	blocks := Parse(log)
	if len(blocks) != 2 {
		t.Fatalf("Parse() returned %d blocks, want 2: %+v", len(blocks), blocks)
	}

	want := ErrorBlock{
		File:      "calc_test.go",
		Line:      27,
		ErrorType: TestFailure,
		Message:   "--- FAIL: TestAdd (0.00s)\ncalc_test.go:27: Add(2, 3) = 6, want 5",
		Severity:  SeverityMedium,
	}
	if diff := cmp.Diff(want, blocks[0]); diff != "" {
		t.Errorf("first block mismatch (-want +got):\n%s", diff)
	}
	if blocks[1].ErrorType != TestFailure {
		t.Errorf("package FAIL block type = %q, want %q", blocks[1].ErrorType, TestFailure)
	}
}

func TestParsePythonTraceback(t *testing.T) {
	log := `Traceback (most recent call last):
  File "app/main.py", line 10, in <module>
    run()
  File "app/core.py", line 22, in run
    value = 1 + "a"
TypeError: unsupported operand type(s) for +: 'int' and 'str'`

	blocks := Parse(log)
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}

	want := ErrorBlock{
		File:      "app/core.py",
		Line:      22,
		ErrorType: TypeError,
		Message:   "TypeError: unsupported operand type(s) for +: 'int' and 'str'",
		Severity:  SeverityMedium,
	}
	if diff := cmp.Diff(want, blocks[0]); diff != "" {
		t.Errorf("block mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCompilerDiagnostics(t *testing.T) {
	log := `src/main.c:10:5: error: 'x' undeclared (first use in this function)
src/main.c:12:1: warning: control reaches end of non-void function [-Wreturn-type]
make: *** [Makefile:12: all] Error 2`

	blocks := Parse(log)
	if len(blocks) != 2 {
		t.Fatalf("Parse() returned %d blocks, want 2: %+v", len(blocks), blocks)
	}

	if blocks[0].File != "src/main.c" || blocks[0].Line != 10 {
		t.Errorf("first block location = %s:%d, want src/main.c:10", blocks[0].File, blocks[0].Line)
	}
	if blocks[0].ErrorType != BuildFailure || blocks[0].Severity != SeverityHigh {
		t.Errorf("first block = %s/%s, want build_failure/high", blocks[0].ErrorType, blocks[0].Severity)
	}
	if blocks[1].Line != 12 || blocks[1].ErrorType != LintError || blocks[1].Severity != SeverityLow {
		t.Errorf("warning block = %+v, want line 12 lint_error/low", blocks[1])
	}
}

func TestParseTypeScriptError(t *testing.T) {
	log := "src/components/App.tsx(42,17): error TS2322: Type 'string' is not assignable to type 'number'."

	blocks := Parse(log)
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}
	b := blocks[0]
	if b.File != "src/components/App.tsx" || b.Line != 42 {
		t.Errorf("location = %s:%d, want src/components/App.tsx:42", b.File, b.Line)
	}
	if b.ErrorType != TypeError {
		t.Errorf("type = %q, want %q", b.ErrorType, TypeError)
	}
}

func TestParseESLintReport(t *testing.T) {
	log := `/work/repo/src/index.js
  10:15  error  'unused' is assigned a value but never used  no-unused-vars
  12:1   warning  Unexpected console statement  no-console

2 problems (1 error, 1 warning)`

	blocks := Parse(log)
	if len(blocks) != 2 {
		t.Fatalf("Parse() returned %d blocks, want 2: %+v", len(blocks), blocks)
	}
	for i, b := range blocks {
		if b.File != "/work/repo/src/index.js" {
			t.Errorf("block %d file = %q, want the report path line", i, b.File)
		}
		if b.ErrorType != LintError {
			t.Errorf("block %d type = %q, want %q", i, b.ErrorType, LintError)
		}
	}
	if blocks[0].Line != 10 || blocks[1].Line != 12 {
		t.Errorf("lines = %d, %d, want 10, 12", blocks[0].Line, blocks[1].Line)
	}
	if blocks[1].Severity != SeverityLow {
		t.Errorf("warning severity = %q, want low", blocks[1].Severity)
	}
}

func TestParseWebpackModuleNotFound(t *testing.T) {
	log := `ERROR in ./src/App.js 3:0-34
Module not found: Error: Can't resolve './Missing' in '/work/src'`

	blocks := Parse(log)
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}
	if blocks[0].ErrorType != DependencyError || blocks[0].Severity != SeverityHigh {
		t.Errorf("block = %s/%s, want dependency_error/high", blocks[0].ErrorType, blocks[0].Severity)
	}
}

func TestParsePytestSummary(t *testing.T) {
	t.Run("distinct files", func(t *testing.T) {
		log := `FAILED tests/test_auth.py::test_login - AssertionError: assert 401 == 200
FAILED tests/test_api.py::test_fetch - KeyError: 'session'`

		blocks := Parse(log)
		if len(blocks) != 2 {
			t.Fatalf("Parse() returned %d blocks, want 2: %+v", len(blocks), blocks)
		}
		if blocks[0].File != "tests/test_auth.py" || blocks[1].File != "tests/test_api.py" {
			t.Errorf("files = %q, %q", blocks[0].File, blocks[1].File)
		}
		if blocks[0].HasLine() {
			t.Error("summary lines carry no line number, HasLine() should be false")
		}
		if blocks[0].ErrorType != TestFailure {
			t.Errorf("type = %q, want %q", blocks[0].ErrorType, TestFailure)
		}
	})

	t.Run("same file groups", func(t *testing.T) {
		log := `FAILED tests/test_auth.py::test_login - AssertionError: assert 401 == 200
FAILED tests/test_auth.py::test_logout - KeyError: 'session'`

		blocks := Parse(log)
		if len(blocks) != 1 {
			t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
		}
		msg := blocks[0].Message
		if !strings.HasPrefix(msg, "FAILED tests/test_auth.py::test_login") {
			t.Errorf("first message should lead the block, got %q", msg)
		}
		if !strings.Contains(msg, "test_logout") {
			t.Errorf("second failure should trail the block, got %q", msg)
		}
	})
}

func TestParseGitHubAnnotations(t *testing.T) {
	t.Run("bare annotation", func(t *testing.T) {
		log := `##[group]Run npm test
##[error]Process completed with exit code 1.`

		blocks := Parse(log)
		if len(blocks) != 1 {
			t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
		}
		b := blocks[0]
		if b.Step != "Run npm test" {
			t.Errorf("step = %q, want %q", b.Step, "Run npm test")
		}
		if b.ErrorType != BuildFailure || b.File != "" {
			t.Errorf("block = %+v, want file-less build_failure", b)
		}
	})

	t.Run("annotation with location", func(t *testing.T) {
		blocks := Parse("##[error]src/db.go:42:2: undefined: Conn")
		if len(blocks) != 1 {
			t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
		}
		b := blocks[0]
		if b.File != "src/db.go" || b.Line != 42 {
			t.Errorf("location = %s:%d, want src/db.go:42", b.File, b.Line)
		}
		if b.ErrorType != TypeError {
			t.Errorf("type = %q, want %q", b.ErrorType, TypeError)
		}
	})
}

func TestParseStepAttribution(t *testing.T) {
	log := `===== 1_Setup.txt =====
All good here
===== 2_Run tests.txt =====
--- FAIL: TestX (0.01s)
    x_test.go:9: boom
===== job: compile (id 81) =====
src/parser.c:3:1: fatal error: parse.h: No such file or directory`

	blocks := Parse(log)
	if len(blocks) != 2 {
		t.Fatalf("Parse() returned %d blocks, want 2: %+v", len(blocks), blocks)
	}
	if blocks[0].Step != "Run tests" {
		t.Errorf("first step = %q, want %q", blocks[0].Step, "Run tests")
	}
	if blocks[0].File != "x_test.go" || blocks[0].Line != 9 {
		t.Errorf("first location = %s:%d, want x_test.go:9", blocks[0].File, blocks[0].Line)
	}
	if blocks[1].Step != "compile" {
		t.Errorf("second step = %q, want %q", blocks[1].Step, "compile")
	}
	if blocks[1].ErrorType != BuildFailure || blocks[1].Severity != SeverityCritical {
		t.Errorf("second block = %s/%s, want build_failure/critical", blocks[1].ErrorType, blocks[1].Severity)
	}
}

func TestParseStripsANSIAndTimestamps(t *testing.T) {
	log := "2024-03-05T12:01:02.1234567Z \x1b[31msrc/app.py:3:1: F821 undefined name 'x'\x1b[0m"

	blocks := Parse(log)
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}
	b := blocks[0]
	if b.File != "src/app.py" || b.Line != 3 {
		t.Errorf("location = %s:%d, want src/app.py:3", b.File, b.Line)
	}
	if strings.Contains(b.Message, "\x1b") || strings.Contains(b.Message, "2024-03") {
		t.Errorf("message should be free of escapes and timestamps: %q", b.Message)
	}
	if b.ErrorType != LintError {
		t.Errorf("type = %q, want %q", b.ErrorType, LintError)
	}
}

func TestParseRustError(t *testing.T) {
	log := "error[E0308]: mismatched types\n" +
		" --> src/main.rs:4:20\n" +
		"  |\n" +
		"4 |     let x: i32 = \"five\";\n" +
		"  |                  ^^^^^ expected `i32`, found `&str`"

	blocks := Parse(log)
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}
	b := blocks[0]
	if b.File != "src/main.rs" || b.Line != 4 {
		t.Errorf("location = %s:%d, want src/main.rs:4", b.File, b.Line)
	}
	if b.ErrorType != TypeError {
		t.Errorf("type = %q, want %q", b.ErrorType, TypeError)
	}
	if !strings.Contains(b.Message, "mismatched types") {
		t.Errorf("message lost the error summary: %q", b.Message)
	}
}

func TestParseNodeExceptionAdoptsDeepestFrame(t *testing.T) {
	log := `TypeError: Cannot read properties of undefined (reading 'map')
    at renderList (src/components/List.jsx:14:27)
    at Object.<anonymous> (src/index.js:3:1)`

	blocks := Parse(log)
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}
	b := blocks[0]
	if b.File != "src/components/List.jsx" || b.Line != 14 {
		t.Errorf("location = %s:%d, want src/components/List.jsx:14", b.File, b.Line)
	}
	if !strings.HasPrefix(b.Message, "TypeError:") {
		t.Errorf("exception summary should lead the message: %q", b.Message)
	}
}

func TestParseNpmInstallFailure(t *testing.T) {
	log := `npm ERR! code ERESOLVE
npm ERR! ERESOLVE unable to resolve dependency tree
npm ERR!
npm ERR! While resolving: myapp@1.0.0`

	blocks := Parse(log)
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}
	if blocks[0].ErrorType != DependencyError {
		t.Errorf("type = %q, want %q", blocks[0].ErrorType, DependencyError)
	}
	if !strings.Contains(blocks[0].Message, "unable to resolve dependency tree") {
		t.Errorf("message lost detail lines: %q", blocks[0].Message)
	}
}

func TestParseMavenDiagnostic(t *testing.T) {
	blocks := Parse("[ERROR] /work/src/main/java/App.java:[23,5] cannot find symbol")
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}
	b := blocks[0]
	if b.File != "/work/src/main/java/App.java" || b.Line != 23 {
		t.Errorf("location = %s:%d, want /work/src/main/java/App.java:23", b.File, b.Line)
	}
	if b.ErrorType != BuildFailure {
		t.Errorf("type = %q, want %q", b.ErrorType, BuildFailure)
	}
}

func TestParseDuplicateLocationCollapses(t *testing.T) {
	log := `src/a.py:5:1: E303 too many blank lines
src/a.py:5:1: E303 too many blank lines`

	blocks := Parse(log)
	if len(blocks) != 1 {
		t.Fatalf("Parse() returned %d blocks, want 1: %+v", len(blocks), blocks)
	}
	if blocks[0].Message != "src/a.py:5:1: E303 too many blank lines" {
		t.Errorf("repeat should not duplicate the message: %q", blocks[0].Message)
	}
}

func TestParseDeterministic(t *testing.T) {
	log := `##[group]Run make test
src/main.c:10:5: error: 'x' undeclared
--- FAIL: TestAdd (0.00s)
    calc_test.go:27: got 6, want 5
Module not found: Error: Can't resolve './x'`

	first := Parse(log)
	second := Parse(log)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Parse() is not deterministic (-first +second):\n%s", diff)
	}
	if len(first) == 0 {
		t.Fatal("expected at least one block")
	}
}

func TestParseNoSignal(t *testing.T) {
	for name, log := range map[string]string{
		"empty":        "",
		"whitespace":   "\n\n   \n",
		"clean output": "Compiling...\nAll 42 tests passed.\nDone in 3.2s",
	} {
		t.Run(name, func(t *testing.T) {
			if blocks := Parse(log); len(blocks) != 0 {
				t.Errorf("Parse(%q) = %+v, want no blocks", log, blocks)
			}
		})
	}
}

func TestParseCapsBlockCount(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < maxBlocks*2; i++ {
		sb.WriteString("src/gen.go:")
		sb.WriteString(strconv.Itoa(i + 1))
		sb.WriteString(":1: undefined: helper\n")
	}
	blocks := Parse(sb.String())
	if len(blocks) != maxBlocks {
		t.Errorf("Parse() returned %d blocks, want cap of %d", len(blocks), maxBlocks)
	}
}
