package skills

import (
	"fmt"
	"strings"
)

// PromptPreviews renders enabled skills as short lines suitable for direct
// inclusion in a completion prompt, bounded by MaxPromptSkills and
// truncated as a whole to MaxPromptChars.
func (m *Manager) PromptPreviews() []string {
	enabled := m.EnabledSkills()
	if len(enabled) == 0 {
		return nil
	}

	limit := len(enabled)
	if limit > m.cfg.MaxPromptSkills {
		limit = m.cfg.MaxPromptSkills
	}

	var out []string
	budget := m.cfg.MaxPromptChars
	for _, s := range enabled[:limit] {
		line := fmt.Sprintf("%s: %s", s.Name, s.Description)
		if len(line) > budget {
			if budget <= 0 {
				break
			}
			line = line[:budget] + "..."
		}
		out = append(out, line)
		budget -= len(line)
		if budget <= 0 {
			break
		}
	}
	return out
}

// PromptBlock joins PromptPreviews into a single text section, or "" if
// there are no enabled skills.
func (m *Manager) PromptBlock() string {
	previews := m.PromptPreviews()
	if len(previews) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Enabled skills:\n")
	for _, p := range previews {
		fmt.Fprintf(&b, "- %s\n", p)
	}
	return b.String()
}
