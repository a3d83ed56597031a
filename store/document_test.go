package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrepareInsertAssignsID(t *testing.T) {
	in := Document{"a": 1}
	out := PrepareInsert(in)
	require.NotEmpty(t, out.ID())
	require.Empty(t, in.ID(), "input must not be mutated")

	kept := PrepareInsert(Document{IDField: "x"})
	require.Equal(t, "x", kept.ID())
}

func TestValidCollection(t *testing.T) {
	require.True(t, ValidCollection("audit_log-2"))
	require.False(t, ValidCollection(""))
	require.False(t, ValidCollection("a:b"))
	require.False(t, ValidCollection("a b"))
}

func TestMatchDocumentComparesAcrossNumericTypes(t *testing.T) {
	doc := Document{"n": float64(3), "s": "x", "tags": []any{"a"}}
	require.True(t, MatchDocument(doc, Filter{"n": 3}))
	require.True(t, MatchDocument(doc, Filter{"tags": []string{"a"}}))
	require.False(t, MatchDocument(doc, Filter{"missing": nil}))
	require.False(t, MatchDocument(doc, Filter{"s": "y"}))
	require.True(t, MatchDocument(doc, nil))
}

func TestSortDocumentsAndPage(t *testing.T) {
	docs := []Document{{"k": 10}, {"k": 2}, {"k": nil}, {"k": 7.5}}
	SortDocuments(docs, ListOptions{SortBy: "k"})
	require.Nil(t, docs[0]["k"])
	require.Equal(t, 2, docs[1]["k"])
	require.Equal(t, 10, docs[3]["k"])

	page := Page(docs, ListOptions{Skip: 1, Limit: 2})
	require.Len(t, page, 2)
	require.Empty(t, Page(docs, ListOptions{Skip: 10}))
}

func TestSortUsersFallsBackToCreatedAt(t *testing.T) {
	now := time.Now()
	users := []*User{
		{ID: "b", Email: "b@x", CreatedAt: now},
		{ID: "a", Email: "a@x", CreatedAt: now},
		{ID: "c", Email: "c@x", CreatedAt: now.Add(-time.Minute)},
	}
	SortUsers(users, ListOptions{SortBy: "password_hash"})
	require.Equal(t, []string{"c", "a", "b"}, []string{users[0].ID, users[1].ID, users[2].ID})

	SortUsers(users, ListOptions{SortBy: "email", Descending: true})
	require.Equal(t, "c@x", users[0].Email)
}

func TestTimestampAndExpiry(t *testing.T) {
	require.True(t, Timestamp(time.Time{}).IsZero())
	ts := Timestamp(time.Date(2024, 1, 1, 0, 0, 0, 1_234_567, time.FixedZone("x", 3600)))
	require.Equal(t, time.UTC, ts.Location())
	require.Equal(t, 1_000_000, ts.Nanosecond())

	now := time.Now()
	s := &Session{Expires: now}
	require.True(t, s.ExpiredAt(now), "expiry is inclusive")
	require.False(t, s.ExpiredAt(now.Add(-time.Nanosecond)))
}

func TestSanitizedDropsSecrets(t *testing.T) {
	u := &User{ID: "u", PasswordHash: "h", ResetToken: "r", Permissions: []string{"p"}}
	out := u.Sanitized()
	require.Empty(t, out.PasswordHash)
	require.Empty(t, out.ResetToken)
	out.Permissions[0] = "changed"
	require.Equal(t, "p", u.Permissions[0])
	require.Nil(t, (*User)(nil).Sanitized())
}

func TestRoleUpdateDedupes(t *testing.T) {
	perms := []string{"a", "b", "a"}
	r := &Role{}
	RoleUpdate{Permissions: &perms}.Apply(r)
	require.Equal(t, []string{"a", "b"}, r.Permissions)
	require.True(t, r.HasPermission("b"))
}
