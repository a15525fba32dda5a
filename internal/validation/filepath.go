package validation

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FilePathValidator checks user supplied file paths such as seed and
// export files and the database location.
type FilePathValidator struct {
	// AllowedBaseDirs restricts paths to these directories. Empty allows all.
	AllowedBaseDirs []string
	MaxPathLength   int
}

func NewFilePathValidator(baseDirs ...string) *FilePathValidator {
	return &FilePathValidator{
		AllowedBaseDirs: baseDirs,
		MaxPathLength:   4096,
	}
}

// ValidateAndSanitize expands ~, makes the path absolute and cleans it.
func (v *FilePathValidator) ValidateAndSanitize(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}
	if len(path) > v.MaxPathLength {
		return "", fmt.Errorf("path too long (max %d characters)", v.MaxPathLength)
	}
	for _, char := range path {
		if char < 32 && char != '\t' {
			return "", fmt.Errorf("path contains control characters")
		}
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		path = filepath.Join(homeDir, strings.TrimPrefix(path[1:], "/"))
	} else if strings.HasPrefix(path, "~") {
		return "", fmt.Errorf("invalid tilde usage")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cannot make path absolute: %w", err)
	}

	if err := v.validateBaseDirs(abs); err != nil {
		return "", err
	}
	return abs, nil
}

func (v *FilePathValidator) validateBaseDirs(path string) error {
	if len(v.AllowedBaseDirs) == 0 {
		return nil
	}
	for _, baseDir := range v.AllowedBaseDirs {
		absBaseDir, err := filepath.Abs(baseDir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(absBaseDir, path)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("path not within allowed directories: %v", v.AllowedBaseDirs)
}

// ValidateFile validates path and rejects existing directories.
func (v *FilePathValidator) ValidateFile(path string) (string, error) {
	validatedPath, err := v.ValidateAndSanitize(path)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(validatedPath); err == nil && info.IsDir() {
		return "", fmt.Errorf("path is a directory, not a file: %s", validatedPath)
	}
	return validatedPath, nil
}

// ValidateDirectory validates path, creating it when create is set.
func (v *FilePathValidator) ValidateDirectory(path string, create bool) (string, error) {
	validatedPath, err := v.ValidateAndSanitize(path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(validatedPath)
	switch {
	case os.IsNotExist(err):
		if create {
			if mkErr := os.MkdirAll(validatedPath, 0o755); mkErr != nil {
				return "", fmt.Errorf("failed to create directory: %w", mkErr)
			}
		}
	case err != nil:
		return "", fmt.Errorf("checking directory: %w", err)
	case !info.IsDir():
		return "", fmt.Errorf("path exists but is not a directory: %s", validatedPath)
	}
	return validatedPath, nil
}
