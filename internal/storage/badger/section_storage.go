package badger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
	"gopkg.in/yaml.v3"

	"github.com/ternarybob/attestor/internal/interfaces"
	"github.com/ternarybob/attestor/internal/models"
)

// sectionRecord is the stored form of a section definition, keyed by
// framework + section id so one store serves every framework.
type sectionRecord struct {
	Key       string `badgerhold:"key"` // <framework>/<section id>
	Framework string
	Section   models.Section
}

// SectionStorage implements interfaces.SectionStore on Badger
type SectionStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

var _ interfaces.SectionStore = (*SectionStorage)(nil)

// NewSectionStorage creates a new SectionStorage instance
func NewSectionStorage(db *BadgerDB, logger arbor.ILogger) *SectionStorage {
	return &SectionStorage{
		db:     db,
		logger: logger,
	}
}

func sectionKey(framework, sectionID string) string {
	return framework + "/" + sectionID
}

// SaveSection stores or replaces one section definition
func (s *SectionStorage) SaveSection(ctx context.Context, framework string, section models.Section) error {
	if framework == "" || section.ID == "" {
		return fmt.Errorf("framework and section id are required")
	}
	record := sectionRecord{
		Key:       sectionKey(framework, section.ID),
		Framework: framework,
		Section:   section,
	}
	if err := s.db.Store().Upsert(record.Key, &record); err != nil {
		return fmt.Errorf("failed to save section: %w", err)
	}
	return nil
}

// SectionsFor returns a framework's sections ordered by position
func (s *SectionStorage) SectionsFor(ctx context.Context, framework string) ([]models.Section, error) {
	var records []sectionRecord
	if err := s.db.Store().Find(&records, badgerhold.Where("Framework").Eq(framework)); err != nil {
		return nil, fmt.Errorf("failed to load sections: %w", err)
	}

	sections := make([]models.Section, 0, len(records))
	for _, r := range records {
		sections = append(sections, r.Section)
	}
	sort.Slice(sections, func(i, j int) bool {
		return sections[i].Position < sections[j].Position
	})
	return sections, nil
}

// DeleteSection removes one section definition
func (s *SectionStorage) DeleteSection(ctx context.Context, framework, sectionID string) error {
	err := s.db.Store().Delete(sectionKey(framework, sectionID), &sectionRecord{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete section: %w", err)
	}
	return nil
}

// sectionSeedFile is the YAML layout of a section seed file:
// one file per framework under the configured seed directory.
type sectionSeedFile struct {
	Framework string           `yaml:"framework"`
	Sections  []models.Section `yaml:"sections"`
}

// LoadSeedDir loads <framework>.yaml section files from a directory
// into the store. Existing definitions with the same id are replaced.
// A missing directory is not an error; the store may be fully
// admin-managed.
func (s *SectionStorage) LoadSeedDir(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug().Str("dir", dir).Msg("Section seed directory not present, skipping")
			return nil
		}
		return fmt.Errorf("failed to read section seed directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("failed to read section seed file %s: %w", name, err)
		}

		var seed sectionSeedFile
		if err := yaml.Unmarshal(data, &seed); err != nil {
			return fmt.Errorf("failed to parse section seed file %s: %w", name, err)
		}
		if seed.Framework == "" {
			seed.Framework = strings.TrimSuffix(strings.TrimSuffix(name, ".yaml"), ".yml")
		}

		for _, section := range seed.Sections {
			if err := s.SaveSection(ctx, seed.Framework, section); err != nil {
				return err
			}
			loaded++
		}
	}

	s.logger.Info().Str("dir", dir).Int("sections", loaded).Msg("Section definitions loaded")
	return nil
}
