package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// IDField is the key holding a document's identifier.
const IDField = "_id"

// Document is a schemaless host-application record.
type Document map[string]any

// ID returns the document identifier or "".
func (d Document) ID() string {
	id, _ := d[IDField].(string)
	return id
}

// Clone returns a shallow copy.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Filter is a set of field equality constraints.
type Filter map[string]any

// PrepareInsert copies doc and assigns an ID when missing.
func PrepareInsert(doc Document) Document {
	out := doc.Clone()
	if out.ID() == "" {
		out[IDField] = uuid.NewString()
	}
	return out
}

// ValidCollection reports whether name can be used as a collection name.
func ValidCollection(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}

// MatchDocument reports whether doc satisfies every constraint in f. Values
// are compared by their JSON encoding so 5 and 5.0 are equal but "5" is not.
func MatchDocument(doc Document, f Filter) bool {
	for k, want := range f {
		got, ok := doc[k]
		if !ok {
			return false
		}
		if !jsonEqual(got, want) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

// SortDocuments orders docs in place by opts.SortBy. Missing fields sort first.
func SortDocuments(docs []Document, opts ListOptions) {
	if opts.SortBy == "" {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		c := compareValues(docs[i][opts.SortBy], docs[j][opts.SortBy])
		if opts.Descending {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Page applies opts.Skip and opts.Limit to a slice.
func Page[T any](items []T, opts ListOptions) []T {
	if opts.Skip > 0 {
		if opts.Skip >= len(items) {
			return items[:0]
		}
		items = items[opts.Skip:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// UserSortFields maps accepted sort keys to canonical field names.
var UserSortFields = map[string]string{
	"email":          "email",
	"role":           "role",
	"username":       "username",
	"created_at":     "created_at",
	"updated_at":     "updated_at",
	"last_active_at": "last_active_at",
}

// SortUsers orders users in place. Unknown sort keys fall back to created_at.
func SortUsers(users []*User, opts ListOptions) {
	field, ok := UserSortFields[opts.SortBy]
	if !ok {
		field = "created_at"
	}
	less := func(a, b *User) int {
		switch field {
		case "email":
			return strings.Compare(a.Email, b.Email)
		case "role":
			return strings.Compare(a.Role, b.Role)
		case "username":
			return strings.Compare(a.Username, b.Username)
		case "updated_at":
			return a.UpdatedAt.Compare(b.UpdatedAt)
		case "last_active_at":
			return a.LastActiveAt.Compare(b.LastActiveAt)
		default:
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		}
	}
	sort.SliceStable(users, func(i, j int) bool {
		c := less(users[i], users[j])
		if opts.Descending {
			return c > 0
		}
		return c < 0
	})
}
