package mount

import "testing"

func TestDetectDoesNotError(t *testing.T) {
	var base = t.TempDir()
	if _, err := Detect(base); err != nil {
		t.Fatal(err)
	}
}
