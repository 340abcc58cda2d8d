package logger

import "testing"

func TestSetLevel(t *testing.T) {
	SetLevel("debug")
	if logLevel != levelDebug {
		t.Fatalf("level = %v after SetLevel(debug)", logLevel)
	}
	SetLevel("info")
	if logLevel != levelInfo {
		t.Fatalf("level = %v after SetLevel(info)", logLevel)
	}
	SetLevel("bogus")
	if logLevel != levelInfo {
		t.Fatalf("unknown level changed state: %v", logLevel)
	}
}
