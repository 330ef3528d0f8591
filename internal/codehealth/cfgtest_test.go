package codehealth

import "testing"

func TestIsCfgTest(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"#[cfg(test)]", true},
		{"  #[cfg(test)]  ", true},
		{"#[cfg(not(test))]", false},
		{"#[cfg(any(test, feature = \"foo\"))]", true},
		{"#[cfg(all(test, target_os = \"linux\"))]", true},
		{"#[cfg(feature = \"serde\")]", false},
		{"fn main() {}", false},
		{"", false},
		{"#[cfg(feature = \"testing\")]", false},
		{"#[cfg(all(unix, not(test)))]", false},
		{"#[cfg(any(target_os = \"linux\", not(test)))]", false},
		{"#[cfg(any(test, not(test)))]", true},
		{"#[cfg(not (test))]", false},
		{"#[cfg(all(unix, not (test)))]", false},
		{"#[cfg(not\t(test))]", false},
		{"#[cfg(not\n(test))]", false},
		{"#[cfg(feature = \"test\")]", false},
	}
	for _, c := range cases {
		if got := isCfgTest(c.line); got != c.want {
			t.Errorf("isCfgTest(%q) = %v, want %v", c.line, got, c.want)
		}
	}
}
