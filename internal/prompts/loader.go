// Package prompts provides a loader for the stage prompt templates.
// Prompts are stored as JSON files, one per stage, and embedded at compile time.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

//go:embed *.json
var promptFiles embed.FS

var placeholderPattern = regexp.MustCompile(`\{\{\.([A-Za-z][A-Za-z0-9]*)\}\}`)

// catalogue holds every embedded prompt file, parsed once on first use
var catalogue struct {
	once  sync.Once
	files map[string]map[string]string
	err   error
}

func load() (map[string]map[string]string, error) {
	catalogue.once.Do(func() {
		entries, err := promptFiles.ReadDir(".")
		if err != nil {
			catalogue.err = fmt.Errorf("failed to list prompt files: %w", err)
			return
		}
		files := make(map[string]map[string]string, len(entries))
		for _, e := range entries {
			data, err := promptFiles.ReadFile(e.Name())
			if err != nil {
				catalogue.err = fmt.Errorf("failed to read prompt file %s: %w", e.Name(), err)
				return
			}
			var prompts map[string]string
			if err := json.Unmarshal(data, &prompts); err != nil {
				catalogue.err = fmt.Errorf("failed to parse prompt file %s: %w", e.Name(), err)
				return
			}
			files[e.Name()] = prompts
		}
		catalogue.files = files
	})
	return catalogue.files, catalogue.err
}

func file(filename string) (map[string]string, error) {
	files, err := load()
	if err != nil {
		return nil, err
	}
	prompts, ok := files[filename]
	if !ok {
		return nil, fmt.Errorf("unknown prompt file %s", filename)
	}
	return prompts, nil
}

// Get returns the prompt stored under key in filename (e.g. "planner.json").
func Get(filename, key string) (string, error) {
	prompts, err := file(filename)
	if err != nil {
		return "", err
	}
	prompt, ok := prompts[key]
	if !ok {
		return "", fmt.Errorf("prompt key %q not found in %s", key, filename)
	}
	return prompt, nil
}

// Format replaces template placeholders in the form {{.Key}} with values from data.
// Placeholders without a value are left in place so Missing can report them.
func Format(template string, data map[string]string) string {
	if len(data) == 0 {
		return template
	}
	pairs := make([]string, 0, len(data)*2)
	for key, value := range data {
		pairs = append(pairs, fmt.Sprintf("{{.%s}}", key), value)
	}
	// One pass, so substituted values are never themselves expanded
	return strings.NewReplacer(pairs...).Replace(template)
}

// Render loads a prompt and formats it, failing when a placeholder is left unfilled.
func Render(filename, key string, data map[string]string) (string, error) {
	template, err := Get(filename, key)
	if err != nil {
		return "", err
	}
	out := Format(template, data)
	if missing := Missing(template, data); len(missing) > 0 {
		return "", fmt.Errorf("prompt %s/%s: no value for %s", filename, key, strings.Join(missing, ", "))
	}
	return out, nil
}

// Missing lists the placeholders of template that data does not fill, in order of appearance.
func Missing(template string, data map[string]string) []string {
	var missing []string
	seen := map[string]bool{}
	for _, m := range placeholderPattern.FindAllStringSubmatch(template, -1) {
		name := m[1]
		if _, ok := data[name]; ok || seen[name] {
			continue
		}
		seen[name] = true
		missing = append(missing, name)
	}
	return missing
}

// List returns the prompt keys of a file, sorted.
func List(filename string) ([]string, error) {
	prompts, err := file(filename)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(prompts))
	for key := range prompts {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Files returns the names of the embedded prompt files, sorted.
func Files() ([]string, error) {
	files, err := load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
