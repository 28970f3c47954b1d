// Package handlers provides the built-in directive handlers that act on the
// game systems in [world.World].
package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrWong99/parley/internal/command"
)

const (
	maxAffinityStep = 20
	maxDiscount     = 50
)

var errMissingParam = errors.New("missing parameter")

// Definitions returns the definition table entries for every built-in
// handler. Configuration may replace or extend it.
func Definitions() []command.Definition {
	return []command.Definition{
		{Name: "openMarket", Permission: "trade", Description: "Open your shop to the player."},
		{Name: "closeMarket", Permission: "trade", Description: "Close your shop."},
		{Name: "offerDiscount", Permission: "haggle", Description: "Lower your prices for the player.",
			Params: []command.Param{{Name: "percent", Description: "1 to 50"}}},
		{Name: "giveQuestItem", Permission: "quest", Description: "Hand an item to the player.",
			Params: []command.Param{{Name: "item"}, {Name: "quantity", Optional: true}}},
		{Name: "startQuest", Permission: "quest", Description: "Give the player one of your quests.",
			Params: []command.Param{{Name: "quest", Optional: true}}},
		{Name: "completeQuest", Permission: "quest", Description: "Accept a finished quest from the player.",
			Params: []command.Param{{Name: "quest"}}},
		{Name: "adjustRelationship", Permission: "basic", Description: "Change how much you like the player.",
			Params: []command.Param{{Name: "delta", Description: "-20 to 20"}}},
		{Name: "endConversation", Permission: "basic", Description: "End the conversation."},
	}
}

// RegisterBuiltins registers every built-in handler on reg.
func RegisterBuiltins(reg *command.Registry) error {
	builtins := map[string]command.HandlerFunc{
		"openMarket":         openMarket,
		"closeMarket":        closeMarket,
		"offerDiscount":      offerDiscount,
		"giveQuestItem":      giveQuestItem,
		"startQuest":         startQuest,
		"completeQuest":      completeQuest,
		"adjustRelationship": adjustRelationship,
		"endConversation":    endConversation,
	}
	var errs []error
	for name, fn := range builtins {
		if err := reg.Register(name, fn); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func openMarket(ctx context.Context, _ []string, cc *command.Context) (any, error) {
	if err := cc.World.Market.OpenMarket(ctx, cc.NPC); err != nil {
		return nil, err
	}
	return "market opened", nil
}

func closeMarket(ctx context.Context, _ []string, cc *command.Context) (any, error) {
	if err := cc.World.Market.CloseMarket(ctx, cc.NPC); err != nil {
		return nil, err
	}
	return "market closed", nil
}

func offerDiscount(ctx context.Context, params []string, cc *command.Context) (any, error) {
	percent, err := intParam(params, 0, "percent")
	if err != nil {
		return nil, err
	}
	if percent < 1 || percent > maxDiscount {
		return nil, fmt.Errorf("discount %d%% outside 1..%d", percent, maxDiscount)
	}
	if err := cc.World.Market.OfferDiscount(ctx, cc.NPC, percent); err != nil {
		return nil, err
	}
	return map[string]int{"percent": percent}, nil
}

func giveQuestItem(ctx context.Context, params []string, cc *command.Context) (any, error) {
	item := param(params, 0)
	if item == "" {
		return nil, fmt.Errorf("item: %w", errMissingParam)
	}
	qty := 1
	if param(params, 1) != "" {
		var err error
		if qty, err = intParam(params, 1, "quantity"); err != nil {
			return nil, err
		}
		if qty < 1 {
			return nil, fmt.Errorf("quantity %d must be positive", qty)
		}
	}
	if err := cc.World.Inventory.GiveItem(ctx, item, qty); err != nil {
		return nil, err
	}
	return map[string]any{"item": item, "quantity": qty}, nil
}

// startQuest starts the named quest, or the first quest the NPC carries when
// no id is given.
func startQuest(ctx context.Context, params []string, cc *command.Context) (any, error) {
	id := param(params, 0)
	if id == "" && len(cc.NPC.QuestIDs) > 0 {
		id = cc.NPC.QuestIDs[0]
	}
	if id == "" {
		return nil, fmt.Errorf("quest: %w", errMissingParam)
	}
	q, err := cc.World.Quests.StartQuest(ctx, id, cc.NPC)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func completeQuest(ctx context.Context, params []string, cc *command.Context) (any, error) {
	id := param(params, 0)
	if id == "" {
		return nil, fmt.Errorf("quest: %w", errMissingParam)
	}
	q, err := cc.World.Quests.CompleteQuest(ctx, id, cc.NPC)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func adjustRelationship(ctx context.Context, params []string, cc *command.Context) (any, error) {
	delta, err := intParam(params, 0, "delta")
	if err != nil {
		return nil, err
	}
	delta = max(-maxAffinityStep, min(maxAffinityStep, delta))
	affinity, err := cc.World.Relationships.AdjustAffinity(ctx, cc.NPC, delta)
	if err != nil {
		return nil, err
	}
	return map[string]int{"delta": delta, "affinity": affinity}, nil
}

func endConversation(_ context.Context, _ []string, cc *command.Context) (any, error) {
	cc.RequestEnd()
	return "conversation ending", nil
}

func param(params []string, i int) string {
	if i < len(params) {
		return params[i]
	}
	return ""
}

func intParam(params []string, i int, name string) (int, error) {
	raw := param(params, i)
	if raw == "" {
		return 0, fmt.Errorf("%s: %w", name, errMissingParam)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not a number", name, raw)
	}
	return n, nil
}
