package reference

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadEnumCatalog reads every *.yaml / *.yml enum directory under dir.
func LoadEnumCatalog(dir string) (map[string]EnumDirectory, error) {
	result := make(map[string]EnumDirectory)
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, file := range files {
		if file.IsDir() || !isYAML(file.Name()) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		var enumDir EnumDirectory
		if err := yaml.Unmarshal(data, &enumDir); err != nil {
			return nil, fmt.Errorf("%s: %w", file.Name(), err)
		}
		// directory name falls back to the file name
		enumName := enumDir.Name
		if enumName == "" {
			enumName = strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		}
		sort.SliceStable(enumDir.Items, func(i, j int) bool { return enumDir.Items[i].Order < enumDir.Items[j].Order })
		result[enumName] = enumDir
	}
	return result, nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

type sectionsFile struct {
	Sections []Section `yaml:"sections"`
}

// SectionRegistry resolves section keys and classes.
type SectionRegistry struct {
	sections []Section
	byKey    map[string]int
}

func NewSectionRegistry(sections []Section) (*SectionRegistry, error) {
	r := &SectionRegistry{byKey: make(map[string]int, len(sections))}
	for _, s := range sections {
		s.Key = strings.Trim(strings.TrimSpace(s.Key), "/")
		if s.Key == "" || s.ClassName == "" {
			return nil, fmt.Errorf("section %q: key and className are required", s.Name)
		}
		k := strings.ToLower(s.Key)
		if _, dup := r.byKey[k]; dup {
			return nil, fmt.Errorf("duplicate section key %q", s.Key)
		}
		if s.Name == "" {
			s.Name = s.Key
		}
		r.byKey[k] = len(r.sections)
		r.sections = append(r.sections, s)
	}
	sort.SliceStable(r.sections, func(i, j int) bool { return r.sections[i].Order < r.sections[j].Order })
	for i, s := range r.sections {
		r.byKey[strings.ToLower(s.Key)] = i
	}
	return r, nil
}

// LoadSections reads a yaml file with a top level `sections:` list.
func LoadSections(path string) (*SectionRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f sectionsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewSectionRegistry(f.Sections)
}

func (r *SectionRegistry) BySectionKey(key string) (Section, bool) {
	i, ok := r.byKey[strings.ToLower(strings.Trim(key, "/"))]
	if !ok {
		return Section{}, false
	}
	return r.sections[i], true
}

// ByClassName returns the first section administering className.
func (r *SectionRegistry) ByClassName(className string) (Section, bool) {
	for _, s := range r.sections {
		if strings.EqualFold(s.ClassName, className) {
			return s, true
		}
	}
	return Section{}, false
}

// FindByClassAndSectionKey prefers the section named by key when it administers className.
func (r *SectionRegistry) FindByClassAndSectionKey(className, key string) (Section, bool) {
	if s, ok := r.BySectionKey(key); ok && strings.EqualFold(s.ClassName, className) {
		return s, true
	}
	return r.ByClassName(className)
}

func (r *SectionRegistry) All() []Section {
	out := make([]Section, len(r.sections))
	copy(out, r.sections)
	return out
}
