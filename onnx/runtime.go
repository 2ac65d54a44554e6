package onnx

import (
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/krau/agridoctor/config"
	ort "github.com/yalue/onnxruntime_go"
)

var pathOnce sync.Once
var libPath string

func LibPath() string {
	pathOnce.Do(func() {
		libPath = resolveLibPath(config.C().Libonnx, runtime.GOOS, fileExists)
		if libPath == "" {
			slog.Error("ONNX Runtime library path could not be determined for this OS")
		} else {
			slog.Info("Using ONNX Runtime library", slog.String("path", libPath))
		}
	})
	return libPath
}

// candidates lists where the shared library is looked up, most specific first.
func candidates(goos string) []string {
	switch goos {
	case "linux":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.so"),
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
		}
	case "darwin":
		return []string{
			filepath.Join("onnxlibs", "libonnxruntime.dylib"),
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
		}
	case "windows":
		return []string{filepath.Join("onnxlibs", "onnxruntime.dll"), "onnxruntime.dll"}
	default:
		return nil
	}
}

func resolveLibPath(configured, goos string, exists func(string) bool) string {
	if configured != "" {
		return configured
	}
	all := candidates(goos)
	for _, path := range all {
		if exists(path) {
			return path
		}
	}
	if len(all) > 0 {
		// let the loader report a precise error
		return all[len(all)-1]
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Init points onnxruntime_go at the shared library and initializes the environment.
func Init() error {
	if ort.IsInitialized() {
		return nil
	}
	ort.SetSharedLibraryPath(LibPath())
	return ort.InitializeEnvironment()
}

func Destroy() {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			slog.Error("Failed to destroy ONNX Runtime environment", slog.String("error", err.Error()))
		}
	}
}
