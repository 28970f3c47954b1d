package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/parley/internal/command"
	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/internal/world"
)

// promptInput is everything the system prompt is built from.
type promptInput struct {
	NPC             npc.Descriptor
	Snapshot        world.Snapshot
	Quests          []world.Quest
	Allowed         []command.Definition
	Interactions    int
	LastInteraction time.Time
	TurnsLeft       int // -1 when unlimited
}

// buildSystemPrompt renders the system prompt. Empty sections are omitted.
func buildSystemPrompt(in promptInput) string {
	var sb strings.Builder

	who := in.NPC
	fmt.Fprintf(&sb, "You are %s", who.DisplayName())
	if who.RoleType != "" {
		fmt.Fprintf(&sb, ", a %s", humanize(who.RoleType))
	}
	if who.Location != "" {
		fmt.Fprintf(&sb, " in %s", humanize(who.Location))
	}
	sb.WriteString(".")
	if p := strings.TrimSpace(who.Personality); p != "" {
		sb.WriteString(" ")
		sb.WriteString(p)
	}

	if b := strings.TrimSpace(who.Background); b != "" {
		sb.WriteString("\n\n## Background\n")
		sb.WriteString(b)
	}

	if s := formatSnapshot(in.Snapshot); s != "" {
		sb.WriteString("\n\n## Current Situation\n")
		sb.WriteString(s)
	}

	if len(in.Quests) > 0 {
		sb.WriteString("\n\n## Quests\n")
		for _, q := range in.Quests {
			role := "involved in"
			switch {
			case q.GiverID == who.ID || sameName(q.GiverName, who.Name):
				role = "the giver of"
			case q.TurnInID == who.ID || sameName(q.TurnInName, who.Name):
				role = "the one to receive"
			}
			fmt.Fprintf(&sb, "- You are %s %q (id %s, %s).\n", role, q.Title, q.ID, humanize(string(q.State)))
		}
		trimNewline(&sb)
	}

	if in.Interactions > 0 {
		sb.WriteString("\n\n## Memory\n")
		fmt.Fprintf(&sb, "You have spoken with this traveller %s before", times(in.Interactions))
		if !in.LastInteraction.IsZero() {
			fmt.Fprintf(&sb, ", most recently on %s", in.LastInteraction.Format("January 2"))
		}
		sb.WriteString(". Greet them as someone you recognise and draw on what was said.")
	}

	if len(in.Allowed) > 0 {
		sb.WriteString("\n\n## Actions\n")
		sb.WriteString("When you actually do one of these things, write its tag inline in your reply exactly as shown. Never use tags not listed here.\n")
		for _, d := range in.Allowed {
			fmt.Fprintf(&sb, "- %s", d.Usage())
			if d.Description != "" {
				fmt.Fprintf(&sb, ": %s", d.Description)
			}
			sb.WriteString("\n")
		}
		trimNewline(&sb)
	}

	sb.WriteString("\n\n## Style\n")
	sb.WriteString("Stay in character. Answer in one to three short sentences of plain speech.")
	if in.TurnsLeft >= 0 && in.TurnsLeft <= 2 {
		sb.WriteString(" You are busy and will soon end the conversation.")
	}
	return sb.String()
}

func formatSnapshot(s world.Snapshot) string {
	var parts []string
	if s.TimeOfDay != "" {
		parts = append(parts, "Time of day: "+s.TimeOfDay)
	}
	if s.Weather != "" {
		parts = append(parts, "Weather: "+s.Weather)
	}
	for _, n := range s.Notes {
		if n = strings.TrimSpace(n); n != "" {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "\n")
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}

func times(n int) string {
	switch n {
	case 1:
		return "once"
	case 2:
		return "twice"
	}
	return fmt.Sprintf("%d times", n)
}

func trimNewline(sb *strings.Builder) {
	s := strings.TrimRight(sb.String(), "\n")
	sb.Reset()
	sb.WriteString(s)
}
