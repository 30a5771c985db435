package trials

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mcdev12/refgame/go/internal/refgame/message"
	"gopkg.in/yaml.v3"
)

// ErrInvalidCatalog is returned when a stimulus catalog fails validation
var ErrInvalidCatalog = errors.New("invalid stimulus catalog")

// Object is one drawable object of the catalog
type Object struct {
	Name  string `yaml:"name"`
	Color string `yaml:"color"`
}

// Catalog describes the objects of an experiment and how rounds are built
type Catalog struct {
	// Repetitions is how many times each object serves as the target
	Repetitions int `yaml:"repetitions"`
	// ContextSize is the number of objects shown per round, target included
	ContextSize int      `yaml:"context_size"`
	Objects     []Object `yaml:"objects"`
}

// LoadCatalog reads and validates a YAML catalog
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stimulus catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates YAML catalog bytes
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse stimulus catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the catalog can produce well-formed rounds
func (c *Catalog) Validate() error {
	if c.Repetitions < 1 {
		return fmt.Errorf("%w: repetitions must be at least 1", ErrInvalidCatalog)
	}
	if c.ContextSize < 2 {
		return fmt.Errorf("%w: context_size must be at least 2", ErrInvalidCatalog)
	}
	if c.ContextSize > len(c.Objects) {
		return fmt.Errorf("%w: context_size %d exceeds %d objects", ErrInvalidCatalog, c.ContextSize, len(c.Objects))
	}

	seen := make(map[string]bool, len(c.Objects))
	for i, o := range c.Objects {
		if o.Name == "" {
			return fmt.Errorf("%w: object %d has no name", ErrInvalidCatalog, i)
		}
		if strings.ContainsAny(o.Name, message.Delimiter+",") || strings.Contains(o.Name, message.PeriodSentinel) {
			return fmt.Errorf("%w: object name %q cannot carry '.', ',' or %q", ErrInvalidCatalog, o.Name, message.PeriodSentinel)
		}
		if seen[o.Name] {
			return fmt.Errorf("%w: duplicate object %q", ErrInvalidCatalog, o.Name)
		}
		seen[o.Name] = true
	}
	return nil
}

// Rounds is the number of rounds a session built from this catalog lasts
func (c *Catalog) Rounds() int {
	return len(c.Objects) * c.Repetitions
}
