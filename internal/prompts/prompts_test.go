package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haventech/haven/internal/domain"
)

func seededLibrary(t *testing.T) *Library {
	t.Helper()
	dir := t.TempDir()
	if err := Seed(dir); err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	lib, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	return lib
}

func TestLoadMissingFileFails(t *testing.T) {
	dir := t.TempDir()
	if err := Seed(dir); err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	if err := os.Remove(filepath.Join(dir, CrisisFile)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error when a template file is missing")
	}
}

func TestSeedKeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	custom := "my custom persona"
	if err := os.WriteFile(filepath.Join(dir, SystemFile), []byte(custom), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := Seed(dir); err != nil {
		t.Fatalf("Seed error: %v", err)
	}
	lib, err := Load(dir)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if lib.System != custom {
		t.Fatal("Seed overwrote a customized template")
	}
}

func TestBuildSystemPromptNormal(t *testing.T) {
	lib := seededLibrary(t)
	settings := &domain.Settings{Style: "cbt", ResponseLength: "short", AllowMemory: true, Language: "en"}
	facts := &domain.Facts{StableIssues: []string{"anxiety"}}

	got := lib.BuildSystemPrompt(false, settings, "last time we talked about work", facts)

	if !strings.Contains(got, lib.System) {
		t.Fatal("base persona missing")
	}
	if !strings.Contains(got, "Style: cbt") || !strings.Contains(got, "Response length: short") {
		t.Fatal("preferences missing")
	}
	if !strings.Contains(got, "last time we talked about work") {
		t.Fatal("summary placeholder not substituted")
	}
	if !strings.Contains(got, "anxiety") {
		t.Fatal("facts placeholder not substituted")
	}
	if !strings.Contains(got, "Always reply in English") {
		t.Fatal("language directive missing")
	}
}

func TestBuildSystemPromptCrisisSuppressesEverything(t *testing.T) {
	lib := seededLibrary(t)
	settings := &domain.Settings{Style: "cbt", ResponseLength: "short", AllowMemory: true, Language: "ru"}

	got := lib.BuildSystemPrompt(true, settings, "summary text", &domain.Facts{StableIssues: []string{"anxiety"}})

	if !strings.Contains(got, lib.Crisis) {
		t.Fatal("crisis persona missing")
	}
	if strings.Contains(got, "Style:") || strings.Contains(got, "summary text") || strings.Contains(got, "anxiety") {
		t.Fatal("crisis mode must suppress preferences and memory")
	}
	if !strings.Contains(got, "Always reply in Russian") {
		t.Fatal("language directive missing in crisis mode")
	}
}

func TestBuildSystemPromptNoMemoryContext(t *testing.T) {
	lib := seededLibrary(t)
	settings := &domain.Settings{Style: "cbt", ResponseLength: "medium", AllowMemory: true, Language: "ru"}

	got := lib.BuildSystemPrompt(false, settings, "", nil)
	if strings.Contains(got, "{{summary}}") || strings.Contains(got, "{{facts_json}}") {
		t.Fatal("unsubstituted placeholder leaked")
	}
	// No summary and no facts: the memory block is omitted entirely.
	if strings.Contains(got, "Context from previous sessions") {
		t.Fatal("memory block rendered without any context")
	}
}

func TestBuildSystemPromptMemoryDisabled(t *testing.T) {
	lib := seededLibrary(t)
	settings := &domain.Settings{Style: "cbt", ResponseLength: "medium", AllowMemory: false, Language: "ru"}

	got := lib.BuildSystemPrompt(false, settings, "prior summary", &domain.Facts{})
	if strings.Contains(got, "prior summary") {
		t.Fatal("memory injected although the user disallowed it")
	}
}
