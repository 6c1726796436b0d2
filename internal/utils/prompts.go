package utils

import (
	"embed"
	"fmt"
	"io/fs"
	"strings"
)

//go:embed prompts
var promptFiles embed.FS

// LoadPrompt loads a prompt from the embedded markdown files
func LoadPrompt(path string) (string, error) {
	content, err := promptFiles.ReadFile(fmt.Sprintf("prompts/%s.md", path))
	if err != nil {
		return "", fmt.Errorf("failed to load prompt %s: %w", path, err)
	}
	return string(content), nil
}

// PromptNames lists every embedded template by its LoadPrompt path.
func PromptNames() ([]string, error) {
	var names []string
	err := fs.WalkDir(promptFiles, "prompts", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return err
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(path, "prompts/"), ".md"))
		return nil
	})
	return names, err
}
