package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// PathConfig holds the on-disk locations used by the service.
// All paths can be overridden via environment variables.
type PathConfig struct {
	// UploadDir holds uploaded and derived dataset splits.
	UploadDir string `yaml:"upload_dir"`

	// ModelDir holds trained model files.
	ModelDir string `yaml:"model_dir"`

	// CaptureCSV is the file every captured packet record is appended to.
	CaptureCSV string `yaml:"capture_csv"`

	// ReplayDir holds the capture files /start_capture may replay. Requests
	// name files relative to it.
	ReplayDir string `yaml:"replay_dir"`

	// StaticDir is an optional directory served at "/".
	StaticDir string `yaml:"static_dir"`

	// ONNXLibraryPath is the path to the ONNX Runtime shared library.
	ONNXLibraryPath string `yaml:"onnx_library_path"`
}

// DefaultPathConfig returns the default path configuration.
// Paths are determined by:
// 1. Environment variables (highest priority)
// 2. XDG Base Directory Specification
// 3. Platform-specific defaults
func DefaultPathConfig() PathConfig {
	dataDir := filepath.Join(getUserDataDir(), "optimizing-ids")

	return PathConfig{
		UploadDir:       getEnvOrDefault("IDS_UPLOAD_DIR", filepath.Join(dataDir, "uploads")),
		ModelDir:        getEnvOrDefault("IDS_MODEL_DIR", filepath.Join(dataDir, "models")),
		CaptureCSV:      getEnvOrDefault("IDS_CAPTURE_CSV", filepath.Join(dataDir, "network_traffic_features.csv")),
		ReplayDir:       getEnvOrDefault("IDS_REPLAY_DIR", filepath.Join(dataDir, "captures")),
		StaticDir:       os.Getenv("IDS_STATIC_DIR"),
		ONNXLibraryPath: getEnvOrDefault("IDS_ONNX_LIBRARY_PATH", findONNXLibrary()),
	}
}

// EnsureDirectories creates the upload, model, replay and capture directories.
func (p *PathConfig) EnsureDirectories() error {
	dirs := []string{
		p.UploadDir,
		p.ModelDir,
		p.ReplayDir,
		filepath.Dir(p.CaptureCSV),
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or the default.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getUserDataDir returns the user data directory following XDG spec.
func getUserDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return xdgData
	}

	home := os.Getenv("HOME")
	if home == "" {
		home = "/tmp"
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support")
	default:
		return filepath.Join(home, ".local", "share")
	}
}

// findONNXLibrary searches for the ONNX Runtime library in common locations.
func findONNXLibrary() string {
	searchPaths := []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/local/lib64/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/usr/lib64/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
		"/usr/local/opt/onnxruntime/lib/libonnxruntime.dylib",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	// Return default path even if not found (will error when an ONNX model is loaded)
	return "/usr/lib/libonnxruntime.so"
}

// PathEnvVarsDoc documents the environment overrides for users.
const PathEnvVarsDoc = `
Path Configuration Environment Variables:

  IDS_UPLOAD_DIR         Directory for uploaded dataset splits
                         Default: ~/.local/share/optimizing-ids/uploads

  IDS_MODEL_DIR          Directory for trained models
                         Default: ~/.local/share/optimizing-ids/models

  IDS_CAPTURE_CSV        CSV file receiving captured packet records
                         Default: ~/.local/share/optimizing-ids/network_traffic_features.csv

  IDS_REPLAY_DIR         Directory of capture files that may be replayed
                         Default: ~/.local/share/optimizing-ids/captures

  IDS_STATIC_DIR         Optional directory served at /

  IDS_ONNX_LIBRARY_PATH  Path to ONNX Runtime shared library
                         Default: /usr/lib/libonnxruntime.so (auto-detected)
`
