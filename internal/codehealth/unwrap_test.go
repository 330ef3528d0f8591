package codehealth

import "testing"

func TestIsSafeUnwrap(t *testing.T) {
	safe := []string{
		`    Regex::new(r"pattern").unwrap()`,
		`    let guard = data.lock().unwrap();`,
		`    let r = rw.read().unwrap();`,
		`    let w = rw.write().unwrap();`,
		`    tx.send(msg).unwrap();`,
		`    Selector::parse("div").unwrap()`,
		`    parser.set_language(lang).unwrap()`,
		`    contains(".unwrap()")`,
		`    let guard = data.lock().expect("poisoned");`,
	}
	for _, line := range safe {
		if !isSafeUnwrap(line) {
			t.Errorf("isSafeUnwrap(%q) = false, want true", line)
		}
	}

	unsafeLines := []string{
		`    result.unwrap()`,
		`    some_option.unwrap()`,
		`    println!("call .unwrap() here")`,
	}
	for _, line := range unsafeLines {
		if isSafeUnwrap(line) {
			t.Errorf("isSafeUnwrap(%q) = true, want false", line)
		}
	}
}
