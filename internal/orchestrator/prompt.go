package orchestrator

import (
	"fmt"
	"strings"

	"github.com/nxclaw/nxclaw/internal/memory"
	"github.com/nxclaw/nxclaw/internal/objectives"
	"github.com/nxclaw/nxclaw/internal/session"
	"github.com/nxclaw/nxclaw/internal/tasks"
	"github.com/nxclaw/nxclaw/internal/tool"
)

const behavioralRules = `Respond directly and concretely. Use the available tools when a task requires reading, editing, executing, or searching something you cannot do from text alone. Do not fabricate tool results.`

// composePrompt builds the single text blob sent to the completion layer.
// trimLevel progressively drops context sections when a previous attempt at
// the same turn overflowed the model's context window:
//
//	0: full context (objectives, tasks, memory matches, working memory)
//	1: drop working memory (SOUL/long-term excerpts)
//	2: keep only the single best memory match, objectives and tasks omitted
func (o *Orchestrator) composePrompt(in safeIncoming, laneKey string, sess *session.Session, matches []memory.SearchResult, trimLevel int) string {
	var b strings.Builder

	queueDepth := 0
	if o.Lane != nil {
		queueDepth = o.Lane.Depth()
	}
	fmt.Fprintf(&b, "Source: %s | Channel: %s | Session: %s | Queue depth: %d\n\n", in.Source, in.ChannelID, laneKey, queueDepth)

	if trimLevel < 2 {
		if o.Objectives != nil {
			writeObjectives(&b, o.Objectives.List(""))
		}
		if o.Tasks != nil {
			writeTasks(&b, o.Tasks.List(false))
		}
	}

	writeMemoryMatches(&b, matches, trimLevel)

	if trimLevel < 1 && o.Memory != nil {
		preview := memory.WorkingMemoryPreview(o.Memory.BuildWorkingMemory())
		if preview != "" {
			b.WriteString(preview)
			b.WriteString("\n")
		}
	}

	if o.Tools != nil {
		writeToolList(&b, o.Tools.Definitions())
	}

	if o.Skills != nil {
		if block := o.Skills.PromptBlock(); block != "" {
			b.WriteString(block)
			b.WriteString("\n")
		}
	}

	b.WriteString(behavioralRules)
	b.WriteString("\n\n")

	b.WriteString("User: ")
	b.WriteString(in.Text)

	return b.String()
}

func writeObjectives(b *strings.Builder, objs []*objectives.Objective) {
	if len(objs) == 0 {
		return
	}
	b.WriteString("Active objectives:\n")
	count := 0
	for _, o := range objs {
		if o.Status == objectives.StatusCompleted || o.Status == objectives.StatusCancelled || o.Status == objectives.StatusFailed {
			continue
		}
		fmt.Fprintf(b, "- [%s] (p%d) %s\n", o.Status, o.Priority, o.Title)
		count++
		if count >= 5 {
			break
		}
	}
	b.WriteString("\n")
}

func writeTasks(b *strings.Builder, tks []*tasks.Task) {
	if len(tks) == 0 {
		return
	}
	b.WriteString("Background tasks:\n")
	count := 0
	for _, t := range tks {
		fmt.Fprintf(b, "- [%s] %s: %s\n", t.Status, t.ID, t.Name)
		count++
		if count >= 5 {
			break
		}
	}
	b.WriteString("\n")
}

func writeMemoryMatches(b *strings.Builder, matches []memory.SearchResult, trimLevel int) {
	if len(matches) == 0 {
		return
	}
	limit := len(matches)
	if trimLevel >= 2 && limit > 1 {
		limit = 1
	}
	b.WriteString("Relevant memory:\n")
	for i, m := range matches[:limit] {
		text := m.Text
		if trimLevel >= 2 && len(text) > 200 {
			text = text[:200] + "..."
		}
		fmt.Fprintf(b, "- (%.2f) %s\n", m.Score, text)
		if i+1 >= limit {
			break
		}
	}
	b.WriteString("\n")
}

func writeToolList(b *strings.Builder, defs []tool.Definition) {
	if len(defs) == 0 {
		return
	}
	b.WriteString("Available tools:\n")
	for _, d := range defs {
		fmt.Fprintf(b, "- %s: %s\n", d.Name, d.Description)
	}
	b.WriteString("\n")
}
