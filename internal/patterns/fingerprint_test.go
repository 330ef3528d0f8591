package patterns

import "testing"

func TestFingerprint_NormalizesPaths(t *testing.T) {
	fp1, tmpl1 := Fingerprint("write_file", "failed to write /home/alice/project/src/main.go: permission denied")
	fp2, tmpl2 := Fingerprint("write_file", "failed to write /home/bob/other/src/lib.go: permission denied")

	if fp1 != fp2 {
		t.Errorf("expected matching fingerprints after path normalization, got %s vs %s (templates %q vs %q)", fp1, fp2, tmpl1, tmpl2)
	}
}

func TestFingerprint_NormalizesLineCol(t *testing.T) {
	fp1, _ := Fingerprint("edit_file", "syntax error at main.go:12:5: unexpected token")
	fp2, _ := Fingerprint("edit_file", "syntax error at main.go:340:2: unexpected token")

	if fp1 != fp2 {
		t.Error("expected matching fingerprints after line:col normalization")
	}
}

func TestFingerprint_NormalizesHexIDs(t *testing.T) {
	fp1, _ := Fingerprint("git", "commit 3f9a1c2b4e5d6f708192a3b4c5d6e7f809182736 failed to apply")
	fp2, _ := Fingerprint("git", "commit aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa failed to apply")

	if fp1 != fp2 {
		t.Error("expected matching fingerprints after hex-run normalization")
	}
}

func TestFingerprint_NormalizesLongQuotedStrings(t *testing.T) {
	fp1, _ := Fingerprint("bash", `command "this is a very long quoted command argument value" exited nonzero`)
	fp2, _ := Fingerprint("bash", `command "a totally different very long quoted command value" exited nonzero`)

	if fp1 != fp2 {
		t.Error("expected matching fingerprints after long-quoted-string normalization")
	}
}

func TestFingerprint_DistinctToolsDoNotCollide(t *testing.T) {
	fp1, _ := Fingerprint("write_file", "permission denied")
	fp2, _ := Fingerprint("edit_file", "permission denied")

	if fp1 == fp2 {
		t.Error("expected different tools to produce different fingerprints for the same message")
	}
}

func TestFingerprint_IsDeterministic(t *testing.T) {
	fp1, _ := Fingerprint("bash", "command not found: foo")
	fp2, _ := Fingerprint("bash", "command not found: foo")
	if fp1 != fp2 {
		t.Error("expected fingerprint to be deterministic for identical input")
	}
	if len(fp1) != 16 {
		t.Errorf("expected a 16-hex digest, got %d chars: %s", len(fp1), fp1)
	}
}
