package codehealth

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	full := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCollect_FindsTODOAnywhere(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/main.rs", "fn main() {\n    // TODO: wire this up\n}\n")

	out, err := Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if out.Results.TODOs != 1 {
		t.Fatalf("expected 1 TODO finding, got %d", out.Results.TODOs)
	}
}

func TestCollect_SkipsUnwrapInTestFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/lib_test.rs", "fn f() {\n    let x = foo().unwrap();\n}\n")

	out, err := Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if out.Results.Unwraps != 0 {
		t.Fatalf("expected 0 unwrap findings in a _test.rs file, got %d", out.Results.Unwraps)
	}
}

func TestCollect_SkipsUnwrapInCfgTestModule(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/lib.rs", `fn production() {
    let x = real_thing().unwrap();
}

#[cfg(test)]
mod tests {
    #[test]
    fn it_works() {
        let y = foo().unwrap();
    }
}
`)

	out, err := Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if out.Results.Unwraps != 1 {
		t.Fatalf("expected exactly 1 unwrap finding (production code only), got %d", out.Results.Unwraps)
	}
}

func TestCollect_SkipsSafeUnwraps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/lib.rs", "fn f() {\n    let re = Regex::new(r\"x\").unwrap();\n}\n")

	out, err := Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if out.Results.Unwraps != 0 {
		t.Fatalf("expected Regex::new().unwrap() to be treated as safe, got %d findings", out.Results.Unwraps)
	}
}

func TestCollect_FindsUnimplementedOutsideComments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/lib.rs", "fn f() {\n    unimplemented!()\n}\n// todo!(later)\n")

	out, err := Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if out.Results.Unimplemented != 1 {
		t.Fatalf("expected 1 unimplemented finding (comment line excluded), got %d", out.Results.Unimplemented)
	}
}

func TestCollect_FindsSilentDBDiscard(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "src/db.rs", `fn save(conn: &Connection) {
    let _ = conn.execute("DELETE FROM foo", []);
}
`)

	out, err := Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if out.Results.ErrorHandling != 1 {
		t.Fatalf("expected 1 error-handling finding, got %d", out.Results.ErrorHandling)
	}
}

func TestCollect_IgnoresNonRustFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "README.md", "TODO: write docs\n")

	out, err := Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Findings) != 0 {
		t.Fatalf("expected no findings from non-.rs files, got %d", len(out.Findings))
	}
}

func TestCollect_SkipsVendorDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vendor/crate/src/lib.rs", "// TODO: vendored\n")

	out, err := Collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	if out.Results.TODOs != 0 {
		t.Fatalf("expected vendor/ to be skipped, got %d TODO findings", out.Results.TODOs)
	}
}
