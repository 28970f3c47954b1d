package memory

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity is the persistent key of an NPC: the same triple always resolves
// to the same [Record] regardless of which transient instance produced it.
// Construct it with [NewIdentity] so all fields are normalised.
type Identity struct {
	RoleType string `json:"role_type"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

// NewIdentity normalises its arguments and returns the resulting identity.
// Normalisation case-folds, strips diacritics, collapses whitespace runs and
// trims, so "Old  Márta " and "old marta" are the same NPC.
func NewIdentity(roleType, name, location string) Identity {
	return Identity{
		RoleType: Normalize(roleType),
		Name:     Normalize(name),
		Location: Normalize(location),
	}
}

// Valid reports whether the identity has a name.
func (id Identity) Valid() bool { return id.Name != "" }

// Key renders the identity as a single string suitable for use as a storage
// key. Separators inside fields are escaped so distinct identities never
// collide.
func (id Identity) Key() string {
	esc := strings.NewReplacer(`\`, `\\`, "|", `\|`)
	return esc.Replace(id.RoleType) + "|" + esc.Replace(id.Name) + "|" + esc.Replace(id.Location)
}

// String implements fmt.Stringer.
func (id Identity) String() string { return id.Key() }

// Normalize applies identity normalisation to a single field.
func Normalize(s string) string {
	// Transformers and casers carry state, so each call builds its own.
	strip := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(strip, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)
	return strings.Join(strings.Fields(out), " ")
}
