package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/flossstock/internal/catalog"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	s.SetClock(func() time.Time { return time.Unix(1_700_000_000, 0) })

	cat, err := catalog.Parse(strings.NewReader(`[
		{"brand": "DMC", "code": "310", "name": "Black", "hex": "#000000"},
		{"brand": "DMC", "code": "B5200", "name": "Snow White", "hex": "#FFFFFF"},
		{"brand": "DMC", "code": "3865", "name": "Winter White", "hex": "#F9F7F1"},
		{"brand": "DMC", "code": "Ecru", "name": "Ecru", "hex": "#F0EADA"},
		{"brand": "DMC", "code": "3", "name": "Tin"}
	]`), catalog.FormatJSON)
	require.NoError(t, err)
	require.NoError(t, s.ImportCatalog(context.Background(), cat))
	return s
}

func newTestUser(t *testing.T, s *Store, email string) User {
	t.Helper()
	u, err := s.EnsureUser(context.Background(), email)
	require.NoError(t, err)
	return u
}

func intp(v int) *int       { return &v }
func strp(v string) *string { return &v }

func TestListColors_Order(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	colors, err := s.ListColors(ctx, "", 0, 0)
	require.NoError(t, err)
	codes := make([]string, len(colors))
	for i, c := range colors {
		codes[i] = c.Code
	}
	// non-numeric codes cast to 0 and sort first, by text
	assert.Equal(t, []string{"B5200", "Ecru", "3", "310", "3865"}, codes)
	assert.Equal(t, "dmc", colors[0].BrandSlug)
	assert.Equal(t, "Default", colors[0].LineName)

	page, err := s.ListColors(ctx, "", 2, 1)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "Ecru", page[0].Code)

	filtered, err := s.ListColors(ctx, "white", 10, 0)
	require.NoError(t, err)
	assert.Len(t, filtered, 2)
}

func TestImportCatalog_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cat, err := catalog.Parse(strings.NewReader(`[{"brand":"DMC","code":"310","name":"Jet Black"}]`), catalog.FormatJSON)
	require.NoError(t, err)
	require.NoError(t, s.ImportCatalog(ctx, cat))

	colors, err := s.ListColors(ctx, "310", 10, 0)
	require.NoError(t, err)
	require.Len(t, colors, 1)
	assert.Equal(t, "Jet Black", colors[0].Name)
	assert.Equal(t, "#000000", colors[0].Hex)
}

func TestLookupCodes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{
		{ColorID: "dmc:default:310", Op: OpSet, Qty: 2},
	}))

	got, err := s.LookupCodes(ctx, u.ID, []string{"310", "ECRU", "b5200", "999"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	byCode := map[string]CodeMatch{}
	for _, m := range got {
		byCode[m.Code] = m
	}
	assert.Equal(t, 2, byCode["310"].Quantity)
	assert.Equal(t, 0, byCode["Ecru"].Quantity)
	assert.Equal(t, "dmc:default:B5200", byCode["B5200"].ColorID)

	empty, err := s.LookupCodes(ctx, u.ID, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestApplyInventory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")
	black := "dmc:default:310"

	get := func() InventoryItem {
		t.Helper()
		it, err := s.InventoryItem(ctx, u.ID, black)
		require.NoError(t, err)
		return it
	}

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpSet, Qty: 3, Notes: strp("drawer 2")}}))
	assert.Equal(t, 3, get().Qty)

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpAdd, Qty: 2}}))
	it := get()
	assert.Equal(t, 5, it.Qty)
	require.NotNil(t, it.Notes)
	assert.Equal(t, "drawer 2", *it.Notes)

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpDelta, Qty: -10}}))
	assert.Equal(t, 0, get().Qty)

	// delta on a missing row starts from zero
	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: "dmc:default:3865", Op: OpDelta, Qty: -4}}))
	it, err := s.InventoryItem(ctx, u.ID, "dmc:default:3865")
	require.NoError(t, err)
	assert.Equal(t, 0, it.Qty)
}

func TestApplyInventory_QuantityStaysBounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")
	black := "dmc:default:310"

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpSet, Qty: 9e18}}))
	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpAdd, Qty: 9e18}}))
	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpDelta, Qty: 9e18}}))

	items, err := s.ListInventory(ctx, u.ID, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, MaxQty, items[0].Qty)

	got, err := s.LookupCodes(ctx, u.ID, []string{"310"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, MaxQty, got[0].Quantity)

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpDelta, Qty: -9e18}}))
	it, err := s.InventoryItem(ctx, u.ID, black)
	require.NoError(t, err)
	assert.Equal(t, 0, it.Qty)

	require.NoError(t, s.PatchInventory(ctx, u.ID, black, InventoryPatch{Qty: intp(9e18)}))
	it, err = s.InventoryItem(ctx, u.ID, black)
	require.NoError(t, err)
	assert.Equal(t, MaxQty, it.Qty)

	for range 2 {
		require.NoError(t, s.AddWishlist(ctx, u.ID, []WishlistAdd{{ColorID: black, DesiredQty: MaxQty}}))
	}
	wl, err := s.ListWishlist(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, wl, 1)
	assert.Equal(t, MaxQty, wl[0].DesiredQty)
}

func TestApplyInventory_UnknownColorRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")

	err := s.ApplyInventory(ctx, u.ID, []InventoryChange{
		{ColorID: "dmc:default:310", Op: OpSet, Qty: 1},
		{ColorID: "dmc:default:nope", Op: OpSet, Qty: 1},
	})
	require.ErrorIs(t, err, ErrUnknownColor)

	items, err := s.ListInventory(ctx, u.ID, "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPatchAndDeleteInventory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")
	black := "dmc:default:310"

	assert.ErrorIs(t, s.PatchInventory(ctx, u.ID, black, InventoryPatch{Qty: intp(1)}), ErrNotFound)

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpSet, Qty: 1, Notes: strp("n")}}))
	require.NoError(t, s.PatchInventory(ctx, u.ID, black, InventoryPatch{Qty: intp(-3)}))
	it, err := s.InventoryItem(ctx, u.ID, black)
	require.NoError(t, err)
	assert.Equal(t, 0, it.Qty)
	require.NotNil(t, it.Notes)

	require.NoError(t, s.PatchInventory(ctx, u.ID, black, InventoryPatch{SetNotes: true}))
	it, err = s.InventoryItem(ctx, u.ID, black)
	require.NoError(t, err)
	assert.Nil(t, it.Notes)

	require.NoError(t, s.DeleteInventory(ctx, u.ID, black))
	assert.ErrorIs(t, s.DeleteInventory(ctx, u.ID, black), ErrNotFound)
}

func TestListInventory_UsedInProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")
	other := newTestUser(t, s, "b@example.com")
	black := "dmc:default:310"

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: black, Op: OpSet, Qty: 1}}))
	for _, p := range []Project{
		{ID: "p1", UserID: u.ID, Name: "One"},
		{ID: "p2", UserID: u.ID, Name: "Two"},
		{ID: "p3", UserID: other.ID, Name: "Theirs"},
	} {
		require.NoError(t, s.CreateProject(ctx, &p))
		require.NoError(t, s.AddProjectColors(ctx, p.ID, []string{black}))
	}

	items, err := s.ListInventory(ctx, u.ID, "")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].UsedInProjects)
	assert.Equal(t, black, items[0].ID)

	refs, err := s.ColorProjects(ctx, u.ID, black)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestWishlist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")

	require.NoError(t, s.AddWishlist(ctx, u.ID, []WishlistAdd{{ColorID: "dmc:default:310", DesiredQty: 0}}))
	require.NoError(t, s.AddWishlist(ctx, u.ID, []WishlistAdd{{ColorID: "dmc:default:310", DesiredQty: 2}}))

	items, err := s.ListWishlist(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].DesiredQty)

	err = s.AddWishlist(ctx, u.ID, []WishlistAdd{{ColorID: "nope"}})
	assert.ErrorIs(t, err, ErrUnknownColor)

	require.NoError(t, s.DeleteWishlist(ctx, u.ID, "dmc:default:310"))
	items, err = s.ListWishlist(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")

	p := Project{ID: "p1", UserID: u.ID, Name: "Fox", PDFName: "fox.pdf", PDFSize: 42, PDFPath: "projects/x/p1.pdf"}
	require.NoError(t, s.CreateProject(ctx, &p))
	assert.NotZero(t, p.CreatedAt)

	got, err := s.ProjectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	require.NoError(t, s.AddProjectColors(ctx, "p1", []string{"dmc:default:310", "dmc:default:310", "dmc:default:3865"}))
	assert.ErrorIs(t, s.AddProjectColors(ctx, "p1", []string{"bogus"}), ErrUnknownColor)

	require.NoError(t, s.ApplyInventory(ctx, u.ID, []InventoryChange{{ColorID: "dmc:default:3865", Op: OpSet, Qty: 4}}))
	colors, err := s.ProjectColors(ctx, u.ID, "p1")
	require.NoError(t, err)
	require.Len(t, colors, 2)
	assert.Equal(t, "310", colors[0].Code)
	assert.Equal(t, 0, colors[0].Quantity)
	assert.Equal(t, 4, colors[1].Quantity)

	require.NoError(t, s.RemoveProjectColor(ctx, "p1", "dmc:default:310"))
	colors, err = s.ProjectColors(ctx, u.ID, "p1")
	require.NoError(t, err)
	assert.Len(t, colors, 1)

	other := newTestUser(t, s, "b@example.com")
	assert.ErrorIs(t, s.DeleteProject(ctx, other.ID, "p1"), ErrNotFound)
	require.NoError(t, s.DeleteProject(ctx, u.ID, "p1"))
	_, err = s.ProjectByID(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)

	list, err := s.ListProjects(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestStash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")

	codes, err := s.Stash(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{}, codes)

	require.NoError(t, s.SetStash(ctx, u.ID, []string{"310", "B5200"}))
	require.NoError(t, s.SetStash(ctx, u.ID, []string{"3865"}))
	codes, err = s.Stash(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"3865"}, codes)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := newTestUser(t, s, "  Alice@Example.COM ")
	assert.Equal(t, "alice@example.com", u.Email)

	again, err := s.EnsureUser(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, again.ID)

	_, err = s.CreateUser(ctx, "ALICE@example.com")
	assert.ErrorIs(t, err, ErrConflict)

	_, _, err = s.PasswordHash(ctx, u.Email)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetPasswordHash(ctx, u.ID, u.Email, "h1"))
	require.NoError(t, s.SetPasswordHash(ctx, u.ID, u.Email, "h2"))
	id, hash, err := s.PasswordHash(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, id)
	assert.Equal(t, "h2", hash)

	bob := newTestUser(t, s, "bob@example.com")
	require.NoError(t, s.UpdateProfile(ctx, u.ID, "alice", "https://example.com/a.png"))
	assert.ErrorIs(t, s.UpdateProfile(ctx, bob.ID, "alice", ""), ErrConflict)
	assert.ErrorIs(t, s.UpdateProfile(ctx, "missing", "zed", ""), ErrNotFound)

	prev, err := s.SetAvatarKey(ctx, u.ID, "avatars/a/1.png")
	require.NoError(t, err)
	assert.Equal(t, "", prev)
	prev, err = s.SetAvatarKey(ctx, u.ID, "avatars/a/2.png")
	require.NoError(t, err)
	assert.Equal(t, "avatars/a/1.png", prev)

	got, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "avatars/a/2.png", got.AvatarKey)
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := newTestUser(t, s, "a@example.com")

	require.NoError(t, s.CreateSession(ctx, Session{ID: "s1", UserID: u.ID, ActiveExpires: 100, IdleExpires: 200}))
	require.NoError(t, s.CreateSession(ctx, Session{ID: "s2", UserID: u.ID, ActiveExpires: 100, IdleExpires: 500}))

	require.NoError(t, s.ExtendSession(ctx, "s1", 300, 400))
	sess, err := s.SessionByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(400), sess.IdleExpires)
	assert.ErrorIs(t, s.ExtendSession(ctx, "nope", 1, 2), ErrNotFound)

	n, err := s.DeleteExpiredSessions(ctx, 450)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.CreateSession(ctx, Session{ID: "s3", UserID: u.ID, ActiveExpires: 100, IdleExpires: 900}))
	n, err = s.DeleteUserSessions(ctx, u.ID, "s3")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.SessionByID(ctx, "s2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SessionByID(ctx, "s3")
	require.NoError(t, err)
}
