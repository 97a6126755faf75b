package skills_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"sermonflow/internal/logging"
	"sermonflow/internal/skills"
)

func TestDefaultCatalogCoversPipelineTaskTypes(t *testing.T) {
	reg := skills.NewRegistry(logging.NewNop())

	want := []string{"ai_metadata", "location_tagging", "social_clip", "thumbnail", "transcription", "video_processing"}
	if got := reg.TaskTypes(); !slices.Equal(got, want) {
		t.Fatalf("unexpected task types: %v", got)
	}
	for _, taskType := range want {
		if len(reg.SkillsFor(taskType)) == 0 {
			t.Fatalf("task type %s has no skills", taskType)
		}
	}
	got := reg.SkillsFor(" Transcription ")
	if !slices.Equal(got, []string{"audio_editing", "transcription"}) {
		t.Fatalf("lookup should fold case and sort: %v", got)
	}
}

func TestSkillsForUnknownTypeIsEmpty(t *testing.T) {
	reg := skills.NewRegistry(logging.NewNop())
	got := reg.SkillsFor("interpretive_dance")
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
	if reg.Known("interpretive_dance") {
		t.Fatal("unknown task type reported as known")
	}
}

func TestSkillsForReturnsCopy(t *testing.T) {
	reg := skills.NewRegistry(logging.NewNop())
	got := reg.SkillsFor("thumbnail")
	got[0] = "mutated"
	if reg.SkillsFor("thumbnail")[0] == "mutated" {
		t.Fatal("registry exposed its internal slice")
	}
}

func TestParseCatalogValidatesReferences(t *testing.T) {
	cases := map[string]string{
		"empty":      "",
		"undeclared": "skills:\n  - name: a\ntask_types:\n  x: [b]\n",
		"duplicate":  "skills:\n  - name: a\n  - name: A\n",
		"bad yaml":   "skills: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := skills.ParseCatalog([]byte(doc)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadCatalogReplacesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skills.yaml")
	doc := `
skills:
  - name: Sign_Language
    category: accessibility
    required_tool_tags: [Camera]
task_types:
  Interpretation: [sign_language]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	reg := skills.NewRegistry(logging.NewNop())
	if err := reg.LoadCatalog(path); err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if got := reg.SkillsFor("interpretation"); !slices.Equal(got, []string{"sign_language"}) {
		t.Fatalf("unexpected skills: %v", got)
	}
	if reg.Known("transcription") {
		t.Fatal("catalog load should replace the built-in table")
	}
	skill, ok := reg.Skill("SIGN_LANGUAGE")
	if !ok || skill.Category != "accessibility" || skill.RequiredToolTags[0] != "camera" {
		t.Fatalf("unexpected skill: %+v ok=%v", skill, ok)
	}

	if err := reg.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if !reg.Known("interpretation") {
		t.Fatal("failed load must keep previous table")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "skills.yaml")
	if err := os.WriteFile(path, []byte("skills:\n  - name: a\ntask_types:\n  first: [a]\n"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	reg := skills.NewRegistry(logging.NewNop())
	if err := reg.LoadCatalog(path); err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := reg.Watch(ctx, path); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("skills:\n  - name: b\ntask_types:\n  second: [b]\n"), 0o644); err != nil {
		t.Fatalf("rewrite catalog: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Known("second") {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("catalog was not reloaded after write")
}
