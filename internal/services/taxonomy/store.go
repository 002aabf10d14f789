package taxonomy

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/attestor/internal/models"
)

// Store holds the control taxonomies loaded from a directory of
// per-framework YAML files. Taxonomies are loaded once and read-only
// afterwards.
type Store struct {
	mu         sync.RWMutex
	taxonomies map[string]*models.Taxonomy
	logger     arbor.ILogger
	validate   *validator.Validate
}

// NewStore creates an empty taxonomy store.
func NewStore(logger arbor.ILogger) *Store {
	return &Store{
		taxonomies: make(map[string]*models.Taxonomy),
		logger:     logger,
		validate:   validator.New(),
	}
}

// LoadDir loads every *.yaml/*.yml file in dir as one framework
// taxonomy. A file that fails to parse or validate aborts the load;
// a missing directory is an error.
func (s *Store) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading taxonomy directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if err := s.loadFile(filepath.Join(dir, entry.Name())); err != nil {
			return err
		}
		loaded++
	}

	s.logger.Info().
		Int("frameworks", loaded).
		Str("dir", dir).
		Msg("Taxonomies loaded")
	return nil
}

func (s *Store) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading taxonomy file %s: %w", path, err)
	}

	var taxonomy models.Taxonomy
	if err := yaml.Unmarshal(data, &taxonomy); err != nil {
		return fmt.Errorf("parsing taxonomy file %s: %w", path, err)
	}
	if err := s.validate.Struct(&taxonomy); err != nil {
		return fmt.Errorf("invalid taxonomy in %s: %w", path, err)
	}

	// Control ids must be unique within a framework.
	seen := make(map[string]bool, len(taxonomy.Controls))
	for _, control := range taxonomy.Controls {
		if seen[control.ControlID] {
			return fmt.Errorf("duplicate control id %s in %s", control.ControlID, path)
		}
		seen[control.ControlID] = true
	}

	s.mu.Lock()
	s.taxonomies[taxonomy.Framework] = &taxonomy
	s.mu.Unlock()

	s.logger.Debug().
		Str("framework", taxonomy.Framework).
		Int("controls", len(taxonomy.Controls)).
		Msg("Taxonomy registered")
	return nil
}

// Register adds a taxonomy directly, replacing any existing entry for
// the same framework.
func (s *Store) Register(taxonomy *models.Taxonomy) error {
	if err := s.validate.Struct(taxonomy); err != nil {
		return fmt.Errorf("invalid taxonomy: %w", err)
	}
	s.mu.Lock()
	s.taxonomies[taxonomy.Framework] = taxonomy
	s.mu.Unlock()
	return nil
}

// TaxonomyFor returns the taxonomy for a framework.
func (s *Store) TaxonomyFor(framework string) (*models.Taxonomy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	taxonomy, ok := s.taxonomies[framework]
	if !ok {
		return nil, fmt.Errorf("unknown framework: %s", framework)
	}
	return taxonomy, nil
}

// Frameworks lists the known framework names, sorted.
func (s *Store) Frameworks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.taxonomies))
	for name := range s.taxonomies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
