package permission

import (
	"slices"
	"testing"

	"github.com/MrWong99/parley/internal/command"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	table, err := command.NewTable([]command.Definition{
		{Name: "wave"},
		{Name: "openMarket"},
		{Name: "closeMarket"},
		{Name: "offerDiscount", Permission: "haggler"},
		{Name: "startQuest"},
		{Name: "giveQuestItem", Permission: "quest_giver"},
	})
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return NewResolver(Config{
		Roles: map[string][]string{
			"merchant": {"basic", "trade"},
			"Elder":    {"basic", "quest_giver"},
			"haggler":  {"trade", "haggler"},
			"mute":     {},
		},
		Groups: map[string][]string{
			"basic":       {"wave"},
			"trade":       {"openMarket", "closeMarket", "openMarket"},
			"quest_giver": {"startQuest", "summonDragon"},
		},
	}, table)
}

func TestResolver_Allowed(t *testing.T) {
	t.Parallel()

	r := testResolver(t)
	tests := []struct {
		role string
		want []string
	}{
		{"merchant", []string{"closeMarket", "openMarket", "wave"}},
		{"elder", []string{"giveQuestItem", "startQuest", "wave"}},
		{"  ELDER ", []string{"giveQuestItem", "startQuest", "wave"}},
		{"haggler", []string{"closeMarket", "offerDiscount", "openMarket"}},
		{"unmapped", []string{"wave"}},
		{"", []string{"wave"}},
		{"mute", []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.role, func(t *testing.T) {
			t.Parallel()
			got := r.Allowed(tc.role)
			if !slices.Equal(got, tc.want) {
				t.Errorf("Allowed(%q) = %v, want %v", tc.role, got, tc.want)
			}
		})
	}
}

// TestResolver_IsAllowedMatchesAllowed checks that IsAllowed holds exactly
// for the names in the union of the role's groups.
func TestResolver_IsAllowedMatchesAllowed(t *testing.T) {
	t.Parallel()

	r := testResolver(t)
	names := []string{"wave", "openMarket", "closeMarket", "offerDiscount", "startQuest", "giveQuestItem", "summonDragon", ""}
	for _, role := range []string{"merchant", "elder", "haggler", "unmapped", "mute"} {
		allowed := r.Allowed(role)
		for _, n := range names {
			if got, want := r.IsAllowed(n, role), slices.Contains(allowed, n); got != want {
				t.Errorf("IsAllowed(%q, %q) = %v, want %v", n, role, got, want)
			}
		}
	}
}

func TestResolver_UndefinedNeverAllowed(t *testing.T) {
	t.Parallel()

	r := testResolver(t)
	if r.IsAllowed("summonDragon", "elder") {
		t.Error("directive outside the definition table must never be allowed")
	}
}

func TestResolver_CustomDefaultGroup(t *testing.T) {
	t.Parallel()

	table, _ := command.NewTable([]command.Definition{{Name: "wave"}, {Name: "bow"}})
	r := NewResolver(Config{
		Groups:       map[string][]string{"basic": {"wave"}, "courteous": {"bow"}},
		DefaultGroup: "courteous",
	}, table)
	if got := r.Allowed("anyone"); !slices.Equal(got, []string{"bow"}) {
		t.Errorf("Allowed = %v, want [bow]", got)
	}
	if got := r.GroupsFor("anyone"); !slices.Equal(got, []string{"courteous"}) {
		t.Errorf("GroupsFor = %v", got)
	}
}
