package util

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadPrompt reads <PROMPT_DIR>/<provider>/<name>.<tp>.txt and falls back to the
// built-in text when the file is missing or empty.
func LoadPrompt(name, tp, provider, builtin string) string {
	if p, err := promptPath(name, tp, provider); err == nil {
		if b, err := os.ReadFile(p); err == nil {
			if s := strings.TrimSpace(string(b)); s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(builtin)
}

func promptPath(name, tp, provider string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("provider is empty")
	}
	baseRoot := os.Getenv("PROMPT_DIR")
	if baseRoot == "" {
		return "", fmt.Errorf("PROMPT_DIR is not set")
	}
	return filepath.Join(baseRoot, strings.ToLower(provider), fmt.Sprintf("%s.%s.txt", name, tp)), nil
}
