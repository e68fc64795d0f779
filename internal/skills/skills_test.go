package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeSkill(t *testing.T, dir, id, manifest string) string {
	t.Helper()
	path := filepath.Join(dir, id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(path, "SKILL.md"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

const sampleManifest = "---\nname: Weather Lookup\ndescription: fetch current weather\ncommands:\n  - weather\n---\n\nBody text.\n"

func TestNewScansInstalledSkills(t *testing.T) {
	dir := t.TempDir()
	skillsDir := filepath.Join(dir, "skills")
	os.MkdirAll(skillsDir, 0o755)
	writeSkill(t, skillsDir, "weather", sampleManifest)

	m, err := New(Config{SkillsDir: skillsDir}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	list := m.List()
	if len(list) != 1 {
		t.Fatalf("len(List()) = %d, want 1", len(list))
	}
	if list[0].Name != "Weather Lookup" {
		t.Fatalf("Name = %q, want %q", list[0].Name, "Weather Lookup")
	}
	if list[0].Description != "fetch current weather" {
		t.Fatalf("Description = %q, want %q", list[0].Description, "fetch current weather")
	}
}

func TestParseManifestFallsBackToHeadingAndParagraph(t *testing.T) {
	manifest, body := parseManifest([]byte("# My Skill\n\nDoes a thing.\n"))
	if manifest.Name != "" {
		t.Fatalf("expected no front matter name, got %q", manifest.Name)
	}
	if firstHeading(body) != "My Skill" {
		t.Fatalf("firstHeading() = %q, want %q", firstHeading(body), "My Skill")
	}
	if firstParagraph(body) != "Does a thing." {
		t.Fatalf("firstParagraph() = %q, want %q", firstParagraph(body), "Does a thing.")
	}
}

func TestEnableDisablePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	skillsDir := filepath.Join(dir, "skills")
	os.MkdirAll(skillsDir, 0o755)
	writeSkill(t, skillsDir, "weather", sampleManifest)

	m, err := New(Config{SkillsDir: skillsDir}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Disable("weather"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	m2, err := New(Config{SkillsDir: skillsDir}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("second New() error = %v", err)
	}
	s, err := m2.Show("weather")
	if err != nil {
		t.Fatalf("Show() error = %v", err)
	}
	if s.Enabled {
		t.Fatalf("Enabled = true, want false (override should have persisted)")
	}
}

func TestInstallCopiesSkillDirectory(t *testing.T) {
	dir := t.TempDir()
	catalogDir := filepath.Join(dir, "catalog")
	os.MkdirAll(catalogDir, 0o755)
	source := writeSkill(t, catalogDir, "weather", sampleManifest)

	skillsDir := filepath.Join(dir, "skills")
	os.MkdirAll(skillsDir, 0o755)

	m, err := New(Config{SkillsDir: skillsDir, AutoEnableOnInstall: true}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	installed, err := m.Install(context.Background(), source)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if !installed.Enabled {
		t.Fatalf("expected AutoEnableOnInstall to enable the skill")
	}
	if _, err := os.Stat(filepath.Join(skillsDir, "weather", "SKILL.md")); err != nil {
		t.Fatalf("expected copied SKILL.md at target, stat error = %v", err)
	}

	if _, err := m.Install(context.Background(), source); err == nil {
		t.Fatalf("expected a second Install() of the same ID to fail")
	}
}

func TestInstallRejectsMissingManifest(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "not-a-skill")
	os.MkdirAll(source, 0o755)

	skillsDir := filepath.Join(dir, "skills")
	os.MkdirAll(skillsDir, 0o755)
	m, err := New(Config{SkillsDir: skillsDir}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := m.Install(context.Background(), source); err == nil {
		t.Fatalf("expected Install() to reject a directory without SKILL.md")
	}
}

func TestCatalogExcludesInstalledSkills(t *testing.T) {
	dir := t.TempDir()
	catalogDir := filepath.Join(dir, "catalog")
	os.MkdirAll(catalogDir, 0o755)
	writeSkill(t, catalogDir, "weather", sampleManifest)
	writeSkill(t, catalogDir, "translate", sampleManifest)

	skillsDir := filepath.Join(dir, "skills")
	writeSkill(t, skillsDir, "weather", sampleManifest)

	m, err := New(Config{SkillsDir: skillsDir, CodexSkillsDir: catalogDir}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	catalog := m.Catalog()
	if len(catalog) != 1 || catalog[0].ID != "translate" {
		t.Fatalf("Catalog() = %+v, want only the uninstalled translate entry", catalog)
	}
}

func TestPromptPreviewsOnlyIncludesEnabledSkills(t *testing.T) {
	dir := t.TempDir()
	skillsDir := filepath.Join(dir, "skills")
	writeSkill(t, skillsDir, "weather", sampleManifest)
	writeSkill(t, skillsDir, "translate", sampleManifest)

	m, err := New(Config{SkillsDir: skillsDir}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := m.Disable("translate"); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}

	previews := m.PromptPreviews()
	if len(previews) != 1 {
		t.Fatalf("len(PromptPreviews()) = %d, want 1", len(previews))
	}
}

func TestRemoveDeletesDirectory(t *testing.T) {
	dir := t.TempDir()
	skillsDir := filepath.Join(dir, "skills")
	path := writeSkill(t, skillsDir, "weather", sampleManifest)

	m, err := New(Config{SkillsDir: skillsDir}, nil, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := m.Remove("weather"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected skill directory to be removed, stat error = %v", err)
	}
	if _, err := m.Show("weather"); err == nil {
		t.Fatalf("expected Show() to fail after Remove()")
	}
}
