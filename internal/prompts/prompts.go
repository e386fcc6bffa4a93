// Package prompts loads the externally-authored prompt templates and
// assembles the per-turn system instruction.
package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/haventech/haven/internal/domain"
	"github.com/haventech/haven/internal/i18n"
)

// Template file names, relative to the prompts directory.
const (
	SystemFile        = "system_prompt.md"
	CrisisFile        = "crisis_prompt.md"
	DetectorFile      = "detector_prompt.md"
	SummaryFile       = "summary_prompt.md"
	FactExtractorFile = "fact_extractor_prompt.md"
	MemoryInsertFile  = "memory_insert_prompt.md"
)

// Library holds the six templates, loaded once at startup.
type Library struct {
	System        string
	Crisis        string
	Detector      string
	Summary       string
	FactExtractor string
	MemoryInsert  string
}

// Load reads every template from dir. A missing or unreadable file is
// an error; startup must not proceed without the full set.
func Load(dir string) (*Library, error) {
	lib := &Library{}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{SystemFile, &lib.System},
		{CrisisFile, &lib.Crisis},
		{DetectorFile, &lib.Detector},
		{SummaryFile, &lib.Summary},
		{FactExtractorFile, &lib.FactExtractor},
		{MemoryInsertFile, &lib.MemoryInsert},
	} {
		data, err := os.ReadFile(filepath.Join(dir, f.name))
		if err != nil {
			return nil, fmt.Errorf("load prompt %s: %w", f.name, err)
		}
		*f.dst = string(data)
	}
	return lib, nil
}

// BuildSystemPrompt composes the system instruction for one turn.
// Crisis mode delivers the crisis persona unmodified: no preferences,
// no memory. The language directive is always appended so the reply
// matches the user's chosen display language.
func (l *Library) BuildSystemPrompt(crisis bool, settings *domain.Settings, summary string, facts *domain.Facts) string {
	var sb strings.Builder

	if crisis {
		sb.WriteString(l.Crisis)
	} else {
		sb.WriteString(l.System)

		if settings != nil {
			sb.WriteString("\n\nUser preferences:\n")
			sb.WriteString(fmt.Sprintf("- Style: %s\n", settings.Style))
			sb.WriteString(fmt.Sprintf("- Response length: %s\n", settings.ResponseLength))
		}

		if settings != nil && settings.AllowMemory {
			if block := l.memoryBlock(summary, facts); block != "" {
				sb.WriteString("\n\n")
				sb.WriteString(block)
			}
		}
	}

	lang := "ru"
	if settings != nil && settings.Language != "" {
		lang = settings.Language
	}
	sb.WriteString(fmt.Sprintf("\n\nIMPORTANT: Always reply in %s, regardless of the language the user writes in.",
		i18n.LangName(lang)))

	return sb.String()
}

// memoryBlock renders the memory-injection template. Both placeholders
// are substituted verbatim; an empty context yields no block at all.
func (l *Library) memoryBlock(summary string, facts *domain.Facts) string {
	if summary == "" && facts == nil {
		return ""
	}

	block := l.MemoryInsert

	summaryText := summary
	if summaryText == "" {
		summaryText = "No prior sessions."
	}
	block = strings.ReplaceAll(block, "{{summary}}", summaryText)

	factsText := "{}"
	if facts != nil {
		if data, err := json.MarshalIndent(facts, "", "  "); err == nil {
			factsText = string(data)
		}
	}
	block = strings.ReplaceAll(block, "{{facts_json}}", factsText)

	return block
}

// Seed writes the default template set into dir, keeping any file the
// operator already customized.
func Seed(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create prompts dir: %w", err)
	}
	for name, content := range defaultTemplates {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return fmt.Errorf("seed prompt %s: %w", name, err)
			}
		}
	}
	return nil
}

var defaultTemplates = map[string]string{
	SystemFile: `You are a supportive CBT-oriented assistant. You help the user notice
thoughts, emotions and cognitive distortions, and choose more helpful
actions. You are not a doctor and never give diagnoses or medication
advice. Be warm, concrete and brief.
`,
	CrisisFile: `The user may be in acute distress. Respond with calm, non-judgmental
support. Encourage contacting local emergency services or a crisis
hotline right away. Do not give techniques, homework or long answers.
Stay with the user and keep replies short and caring.
`,
	DetectorFile: `You are a safety classifier. Given one user message, return strict JSON:
{"risk":"none|low|medium|high","category":"<short label>","reasons":["<short reason>"],"need_crisis_mode":true|false}
Set need_crisis_mode to true only for acute danger to self or others.
Return JSON only, no extra text.
`,
	SummaryFile: `Summarize the dialogue for a future session. Return strict JSON:
{"summary":"...","main_topics":[],"user_emotions":[],"key_thoughts":[],"triggers":[],"helpful_strategies_used":[],"next_session_goal":"..."}
Keep every list short and concrete.
`,
	FactExtractorFile: `Extract durable facts about the user from the dialogue. Return strict JSON:
{"profile":{},"stable_issues":[],"values_and_goals":[],"common_triggers":[],"cognitive_patterns":[],"preferred_support_style":[],"hard_limits":[]}
Profile values must be short strings. Keep old facts, add new ones.
`,
	MemoryInsertFile: `Context from previous sessions:

Recent summaries:
{{summary}}

Known facts about the user:
{{facts_json}}

Use this context naturally; never recite it back to the user.
`,
}
