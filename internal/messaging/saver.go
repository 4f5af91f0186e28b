package messaging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirSaver writes attachments into Dir. The file appears under its final name
// only once it is fully written.
type DirSaver struct {
	Dir string
}

func (s DirSaver) Save(fileName string, data []byte) (string, error) {
	name := filepath.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		name = "download"
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create download directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.Dir, "."+name+".*.part")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	dest := filepath.Join(s.Dir, name)
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("failed to save file: %w", err)
	}
	return dest, nil
}
