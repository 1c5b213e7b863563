package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Config holds the parsed sections of an engine configuration file and
// tracks which of them were read.
type Config struct {
	mu       sync.RWMutex
	sections map[string]*Section
	order    []string
	accessed map[string]struct{}
}

// New creates a new empty Config.
func New() *Config {
	return &Config{
		sections: make(map[string]*Section),
		accessed: make(map[string]struct{}),
	}
}

// Load reads a configuration file. `[include other.cfg]` headers pull in
// further files relative to the including one; globs are allowed.
func Load(path string) (*Config, error) {
	c := New()
	if err := c.loadFile(path, make(map[string]bool)); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadString parses configuration text. Include headers are rejected.
func LoadString(data string) (*Config, error) {
	c := New()
	if err := c.parse(strings.NewReader(data), "<string>", nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) loadFile(path string, visited map[string]bool) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("config: invalid path %s: %w", path, err)
	}
	if visited[abs] {
		return fmt.Errorf("config: recursive include: %s", path)
	}
	visited[abs] = true
	defer delete(visited, abs)

	f, err := os.Open(abs)
	if err != nil {
		return fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	include := func(pattern string) error {
		glob := filepath.Join(filepath.Dir(abs), pattern)
		matches, err := filepath.Glob(glob)
		if err != nil {
			return fmt.Errorf("config: invalid include pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 && !strings.ContainsAny(glob, "*?[") {
			return fmt.Errorf("config: include file does not exist: %s", glob)
		}
		sort.Strings(matches)
		for _, m := range matches {
			if err := c.loadFile(m, visited); err != nil {
				return err
			}
		}
		return nil
	}
	return c.parse(f, path, include)
}

// parse reads `[section]` headers and `key: value` or `key = value` lines.
// Text after '#' or ';' is a comment.
func (c *Config) parse(r io.Reader, name string, include func(string) error) error {
	var section string
	var options map[string]string
	flush := func() {
		if section != "" {
			c.addSection(section, options)
		}
	}

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if idx := strings.IndexAny(line, "#;"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			section, options = "", nil
			header := strings.TrimSpace(line[1 : len(line)-1])
			if header == "" {
				return fmt.Errorf("config: empty section header at %s:%d", name, lineNum)
			}
			if rest, ok := strings.CutPrefix(header, "include "); ok {
				if include == nil {
					return fmt.Errorf("config: include not allowed at %s:%d", name, lineNum)
				}
				if err := include(strings.TrimSpace(rest)); err != nil {
					return err
				}
				continue
			}
			section, options = header, make(map[string]string)
			continue
		}
		if section == "" {
			return fmt.Errorf("config: option outside a section at %s:%d", name, lineNum)
		}

		sep := strings.IndexAny(line, ":=")
		if sep <= 0 {
			return fmt.Errorf("config: malformed line at %s:%d: %q", name, lineNum, line)
		}
		options[strings.TrimSpace(line[:sep])] = strings.TrimSpace(line[sep+1:])
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("config: error reading %s: %w", name, err)
	}
	flush()
	return nil
}

// addSection adds a section, merging options into an existing one.
func (c *Config) addSection(name string, options map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.sections[name]; ok {
		for k, v := range options {
			existing.options[strings.ToLower(k)] = v
		}
		return
	}
	c.sections[name] = newSection(name, options)
	c.order = append(c.order, name)
}

// GetSection returns a Section by name, or error if not found.
func (c *Config) GetSection(name string) (*Section, error) {
	if sec := c.GetSectionOptional(name); sec != nil {
		return sec, nil
	}
	return nil, ErrMissingSection(name)
}

// GetSectionOptional returns a Section if it exists, or nil if not.
func (c *Config) GetSectionOptional(name string) *Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	sec, ok := c.sections[name]
	if ok {
		c.accessed[name] = struct{}{}
	}
	return sec
}

// HasSection checks if a section exists.
func (c *Config) HasSection(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.sections[name]
	return ok
}

// SectionNames returns all section names in file order.
func (c *Config) SectionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// CheckUnused reports sections never fetched and options never read.
func (c *Config) CheckUnused() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var problems []string
	for _, name := range c.order {
		if _, ok := c.accessed[name]; !ok {
			problems = append(problems, fmt.Sprintf("unused section [%s]", name))
			continue
		}
		if unused := c.sections[name].GetUnusedOptions(); len(unused) > 0 {
			problems = append(problems, fmt.Sprintf("[%s]: unused options %v", name, unused))
		}
	}
	if len(problems) > 0 {
		return NewConfigError("", "", strings.Join(problems, "; "))
	}
	return nil
}
