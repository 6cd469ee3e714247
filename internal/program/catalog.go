// Package program runs the fixed N-day program: it maps days to content,
// derives each user's program day and broadcasts the morning and evening messages.
package program

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed protocol.yaml
var defaultProtocol []byte

var ErrInvalidCatalog = errors.New("invalid program catalog")

// DayContent is the fixed content of one program day.
type DayContent struct {
	Day   int    `yaml:"day"`
	Title string `yaml:"title"`
	Task  string `yaml:"task"`
}

// Catalog maps program days to content. Days are contiguous from 1.
type Catalog struct {
	Name string       `yaml:"name"`
	Days []DayContent `yaml:"days"`
}

// ParseCatalog decodes and validates a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(c.Days) == 0 {
		return nil, fmt.Errorf("%w: no days", ErrInvalidCatalog)
	}
	for i, d := range c.Days {
		if d.Day != i+1 {
			return nil, fmt.Errorf("%w: entry %d has day %d, want %d", ErrInvalidCatalog, i, d.Day, i+1)
		}
		if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Task) == "" {
			return nil, fmt.Errorf("%w: day %d is missing title or task", ErrInvalidCatalog, d.Day)
		}
	}
	return &c, nil
}

// LoadCatalog reads a catalog file. An empty path yields the built-in protocol.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in seven-day protocol.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultProtocol)
}

// Day returns the content for day n.
func (c *Catalog) Day(n int) (DayContent, bool) {
	if c == nil || n < 1 || n > len(c.Days) {
		return DayContent{}, false
	}
	return c.Days[n-1], true
}

// Last returns the final day with fixed content.
func (c *Catalog) Last() int {
	if c == nil {
		return 0
	}
	return len(c.Days)
}

// DayNumber derives the program day: whole days elapsed since start, plus one.
// A nil start, or a start in the future, yields day 1.
func DayNumber(start *time.Time, now time.Time) int {
	if start == nil {
		return 1
	}
	elapsed := now.Sub(*start)
	if elapsed < 0 {
		return 1
	}
	return int(elapsed/(24*time.Hour)) + 1
}
