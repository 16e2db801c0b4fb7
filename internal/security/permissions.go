package security

import (
	"fmt"
	"os"
)

// ValidateDirectoryPermissions rejects a rules directory that anyone other
// than its owner can write to, since rules decide which commands run.
func ValidateDirectoryPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking directory permissions: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	mode := info.Mode().Perm()
	if mode&0002 != 0 {
		return fmt.Errorf("directory %s is world-writable (mode %04o), expected 0700, 0750 or 0755", path, mode)
	}
	if mode&0020 != 0 {
		return fmt.Errorf("directory %s is group-writable (mode %04o), expected 0700, 0750 or 0755", path, mode)
	}

	return nil
}

// ValidateFilePermissions checks that a rule file is not world-writable.
func ValidateFilePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("checking file permissions: %w", err)
	}

	if mode := info.Mode().Perm(); mode&0002 != 0 {
		return fmt.Errorf("file %s is world-writable (mode %04o)", path, mode)
	}

	return nil
}
