package skills

import (
	"bytes"
	"fmt"
	"os"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"sermonflow/internal/store"
)

// Task types understood by the built-in catalog.
const (
	TaskTranscription   = "transcription"
	TaskVideoProcessing = "video_processing"
	TaskLocationTagging = "location_tagging"
	TaskAIMetadata      = "ai_metadata"
	TaskThumbnail       = "thumbnail"
	TaskSocialClip      = "social_clip"
)

// Catalog is the serialized form of the skill table.
type Catalog struct {
	Skills    []store.Skill       `yaml:"skills"`
	TaskTypes map[string][]string `yaml:"task_types"`
}

var folder = cases.Fold()

// NormalizeName folds case and trims whitespace so catalog and worker skill
// names compare consistently.
func NormalizeName(name string) string {
	return strings.TrimSpace(folder.String(strings.TrimSpace(name)))
}

// NormalizeNames folds, deduplicates and sorts names, dropping blanks.
func NormalizeNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		if n := NormalizeName(name); n != "" {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// DefaultCatalog returns the built-in skill table.
func DefaultCatalog() Catalog {
	return Catalog{
		Skills: []store.Skill{
			{Name: "transcription", Category: "audio", RequiredToolTags: []string{"speech-to-text"}},
			{Name: "audio_editing", Category: "audio", RequiredToolTags: []string{"daw"}},
			{Name: "video_editing", Category: "video", RequiredToolTags: []string{"nle"}},
			{Name: "video_encoding", Category: "video", RequiredToolTags: []string{"ffmpeg"}},
			{Name: "geotagging", Category: "metadata", RequiredToolTags: []string{"maps"}},
			{Name: "metadata_entry", Category: "metadata"},
			{Name: "ai_review", Category: "metadata", RequiredToolTags: []string{"llm"}},
			{Name: "graphic_design", Category: "design", RequiredToolTags: []string{"image-editor"}},
			{Name: "social_media", Category: "publishing"},
		},
		TaskTypes: map[string][]string{
			TaskTranscription:   {"transcription", "audio_editing"},
			TaskVideoProcessing: {"video_editing", "video_encoding"},
			TaskLocationTagging: {"geotagging", "metadata_entry"},
			TaskAIMetadata:      {"ai_review", "metadata_entry"},
			TaskThumbnail:       {"graphic_design", "video_editing"},
			TaskSocialClip:      {"social_media", "video_editing"},
		},
	}
}

// ParseCatalog decodes and normalizes a YAML catalog. Every skill referenced
// by a task type must be declared under skills.
func ParseCatalog(data []byte) (Catalog, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Catalog{}, fmt.Errorf("skills: catalog is empty")
	}
	var raw Catalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Catalog{}, fmt.Errorf("skills: decode catalog: %w", err)
	}
	return raw.normalized()
}

// LoadCatalogFile reads and parses a catalog file.
func LoadCatalogFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("skills: read %s: %w", path, err)
	}
	catalog, err := ParseCatalog(data)
	if err != nil {
		return Catalog{}, fmt.Errorf("skills: %s: %w", path, err)
	}
	return catalog, nil
}

func (c Catalog) normalized() (Catalog, error) {
	out := Catalog{TaskTypes: make(map[string][]string, len(c.TaskTypes))}
	declared := make(map[string]struct{}, len(c.Skills))
	for _, skill := range c.Skills {
		name := NormalizeName(skill.Name)
		if name == "" {
			return Catalog{}, fmt.Errorf("skill with empty name")
		}
		if _, dup := declared[name]; dup {
			return Catalog{}, fmt.Errorf("skill %q declared twice", name)
		}
		declared[name] = struct{}{}
		out.Skills = append(out.Skills, store.Skill{
			Name:             name,
			Category:         strings.TrimSpace(skill.Category),
			RequiredToolTags: NormalizeNames(skill.RequiredToolTags),
		})
	}
	for taskType, names := range c.TaskTypes {
		key := NormalizeName(taskType)
		if key == "" {
			return Catalog{}, fmt.Errorf("task type with empty name")
		}
		normalized := NormalizeNames(names)
		for _, name := range normalized {
			if _, ok := declared[name]; !ok {
				return Catalog{}, fmt.Errorf("task type %q references undeclared skill %q", key, name)
			}
		}
		out.TaskTypes[key] = normalized
	}
	slices.SortFunc(out.Skills, func(a, b store.Skill) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}
