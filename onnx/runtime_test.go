package onnx

import "testing"

func TestResolveLibPathPrefersConfigured(t *testing.T) {
	got := resolveLibPath("/custom/libonnxruntime.so", "linux", func(string) bool { return true })
	if got != "/custom/libonnxruntime.so" {
		t.Fatalf("resolveLibPath = %q, want configured path", got)
	}
}

func TestResolveLibPathFirstExisting(t *testing.T) {
	exists := func(path string) bool { return path == "/usr/local/lib/libonnxruntime.so" }
	got := resolveLibPath("", "linux", exists)
	if got != "/usr/local/lib/libonnxruntime.so" {
		t.Fatalf("resolveLibPath = %q", got)
	}
}

func TestResolveLibPathFallsBackToLastCandidate(t *testing.T) {
	got := resolveLibPath("", "darwin", func(string) bool { return false })
	if got != "/opt/homebrew/lib/libonnxruntime.dylib" {
		t.Fatalf("resolveLibPath = %q", got)
	}
}

func TestResolveLibPathUnknownOS(t *testing.T) {
	if got := resolveLibPath("", "plan9", func(string) bool { return true }); got != "" {
		t.Fatalf("resolveLibPath = %q, want empty", got)
	}
}
