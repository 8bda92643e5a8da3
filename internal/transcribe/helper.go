package transcribe

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed assets/transcribe.py
var helperScript []byte

// HelperScriptName is the file name the embedded Whisper helper is installed as.
const HelperScriptName = "transcribe.py"

// InstallHelper writes the embedded Whisper helper script into dir and
// returns its path. The script takes the audio file as its only argument.
func InstallHelper(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := filepath.Join(dir, HelperScriptName)
	if err := os.WriteFile(path, helperScript, 0o644); err != nil {
		return "", fmt.Errorf("write helper script: %w", err)
	}
	return path, nil
}
