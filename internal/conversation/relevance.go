package conversation

import (
	"context"
	"regexp"
	"slices"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/internal/world"
	"github.com/MrWong99/parley/pkg/memory"
)

// DefaultAuthorityRoles are roles that always get an unlimited turn budget.
var DefaultAuthorityRoles = []string{"elder", "guild_master", "mayor", "captain", "king", "queen", "priest"}

// DefaultQuestKeywords mark an NPC background as quest-related.
var DefaultQuestKeywords = []string{"quest", "mission", "task", "bounty", "reward", "help", "lost", "missing"}

// nameThreshold is the Jaro-Winkler score at which two NPC names are taken
// to mean the same character.
const nameThreshold = 0.85

// Relevance reasons reported in logs and session info.
const (
	reasonQuestData   = "quest_data"
	reasonAuthority   = "authority_role"
	reasonKeyword     = "background_keyword"
	reasonActiveQuest = "active_quest"
)

type relevance struct {
	authority map[string]struct{}
	keywords  *regexp.Regexp
}

func newRelevance(roles, keywords []string) *relevance {
	r := &relevance{authority: make(map[string]struct{}, len(roles))}
	for _, role := range roles {
		r.authority[memory.Normalize(role)] = struct{}{}
	}
	var quoted []string
	for _, k := range keywords {
		if k = strings.TrimSpace(strings.ToLower(k)); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	if len(quoted) > 0 {
		r.keywords = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)(?:s|es|ed|ing)?\b`)
	}
	return r
}

// check decides whether who is quest-relevant and why. A failing quest
// system is treated as having no active quests.
func (r *relevance) check(ctx context.Context, who npc.Descriptor, quests world.Quests) (bool, string) {
	if who.HasQuestData() {
		return true, reasonQuestData
	}
	if _, ok := r.authority[memory.Normalize(who.RoleType)]; ok {
		return true, reasonAuthority
	}
	if r.keywords != nil && r.keywords.MatchString(who.Background) {
		return true, reasonKeyword
	}
	if quests == nil {
		return false, ""
	}
	active, err := quests.ActiveQuests(ctx)
	if err != nil {
		return false, ""
	}
	if slices.ContainsFunc(active, func(q world.Quest) bool { return questNames(q, who) }) {
		return true, reasonActiveQuest
	}
	return false, ""
}

// questNames reports whether q names who as giver or turn-in target, by id
// or by a fuzzy match on the display name.
func questNames(q world.Quest, who npc.Descriptor) bool {
	if who.ID != "" && (q.GiverID == who.ID || q.TurnInID == who.ID) {
		return true
	}
	return sameName(q.GiverName, who.Name) || sameName(q.TurnInName, who.Name)
}

// sameName compares two names tolerant of spelling and titles: "Old Marta"
// matches "marta", "Hildegard" matches "Hildegarde". Any token pair that
// shares a Double Metaphone code and scores above the threshold, or any
// full or token comparison that scores above it, counts as a match.
func sameName(a, b string) bool {
	a, b = memory.Normalize(a), memory.Normalize(b)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if matchr.JaroWinkler(a, b, false) >= nameThreshold {
		return true
	}
	at, bt := strings.Fields(a), strings.Fields(b)
	for _, x := range at {
		if len([]rune(x)) < 3 {
			continue
		}
		for _, y := range bt {
			if len([]rune(y)) < 3 {
				continue
			}
			if x == y {
				return true
			}
			if phoneticOverlap(x, y) && matchr.JaroWinkler(x, y, false) >= nameThreshold {
				return true
			}
		}
	}
	return false
}

func phoneticOverlap(a, b string) bool {
	ap, as := matchr.DoubleMetaphone(a)
	bp, bs := matchr.DoubleMetaphone(b)
	for _, x := range []string{ap, as} {
		if x == "" {
			continue
		}
		if x == bp || x == bs {
			return true
		}
	}
	return false
}
