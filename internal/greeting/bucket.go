package greeting

import (
	"time"

	"github.com/MrWong99/parley/internal/npc"
	"github.com/MrWong99/parley/pkg/memory"
)

// Bucket is a coarse time of day. Greetings are cached per bucket so an NPC
// says "good morning" in the morning.
type Bucket string

const (
	Dawn      Bucket = "dawn"
	Morning   Bucket = "morning"
	Afternoon Bucket = "afternoon"
	Evening   Bucket = "evening"
	Night     Bucket = "night"
)

// BucketFor maps the hour of t to a bucket: dawn 05-08, morning 08-12,
// afternoon 12-17, evening 17-21, night otherwise.
func BucketFor(t time.Time) Bucket {
	switch h := t.Hour(); {
	case h >= 5 && h < 8:
		return Dawn
	case h >= 8 && h < 12:
		return Morning
	case h >= 12 && h < 17:
		return Afternoon
	case h >= 17 && h < 21:
		return Evening
	default:
		return Night
	}
}

// Key identifies one cache slot. Role and location are normalised the same
// way persistent identities are, so "Riverside Market" and "riverside market"
// share a slot.
type Key struct {
	NPCType  string
	Location string
	Bucket   Bucket
}

// KeyFor derives the cache key for d at time t.
func KeyFor(d npc.Descriptor, t time.Time) Key {
	return Key{
		NPCType:  memory.Normalize(d.RoleType),
		Location: memory.Normalize(d.Location),
		Bucket:   BucketFor(t),
	}
}

func (k Key) String() string {
	return k.NPCType + "@" + k.Location + "/" + string(k.Bucket)
}

// Entry is a cached greeting.
type Entry struct {
	Text     string    `json:"text"`
	CachedAt time.Time `json:"cached_at"`
}
