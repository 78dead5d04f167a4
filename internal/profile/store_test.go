package profile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Taylor-Ding/ech/internal/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "config.json"), nil)
}

func ids(list []Server) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.ID)
	}
	return out
}

func TestOpenWithoutFileYieldsDefaultCatalog(t *testing.T) {
	store := newTestStore(t)

	list := store.List()
	require.Len(t, list, 1)
	srv := list[0]
	require.NotEmpty(t, srv.ID)
	require.Equal(t, DefaultServerAddr, srv.Server)
	require.Equal(t, DefaultListenAddr, srv.Listen)
	require.Equal(t, DefaultRoutingMode, srv.RoutingMode)
	require.Equal(t, srv.ID, store.CurrentID())

	current, ok := store.Current()
	require.True(t, ok)
	require.Equal(t, srv, current)

	_, err := os.Stat(store.Path())
	require.True(t, os.IsNotExist(err), "open must not write the catalog")
}

func TestOpenCorruptFileYieldsDefaultCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := Open(path, nil)
	require.Equal(t, 1, store.Len())
	require.Equal(t, DefaultName, store.List()[0].Name)
}

func TestOpenAppliesFieldDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{
  "servers": [
    {"id": "a", "name": "A", "server": "relay:443", "extra": true},
    {"id": "b", "name": "B", "routing_mode": ""},
    {"name": "no id"}
  ],
  "current_server_id": "missing"
}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	store := Open(path, nil)
	list := store.List()
	require.Len(t, list, 3)

	require.Equal(t, "relay:443", list[0].Server)
	require.Equal(t, "", list[0].Listen)
	require.Equal(t, "", list[0].Token)
	require.Equal(t, DefaultRoutingMode, list[0].RoutingMode)
	require.Equal(t, "", list[1].RoutingMode, "explicit empty routing mode is kept")
	require.NotEmpty(t, list[2].ID)

	require.Equal(t, "a", store.CurrentID(), "dangling current id falls back to the first profile")
}

func TestOpenNullCurrentSelectsFirst(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	doc := `{"servers": [{"id": "a", "name": "A"}, {"id": "a", "name": "dup"}], "current_server_id": null}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	store := Open(path, nil)
	require.Equal(t, "a", store.CurrentID())
	list := store.List()
	require.NotEqual(t, list[0].ID, list[1].ID, "duplicate ids are reassigned")
}

func TestOpenEmptyServerList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"servers": [], "current_server_id": null}`), 0o644))

	store := Open(path, nil)
	require.Equal(t, 1, store.Len())
	require.Equal(t, store.List()[0].ID, store.CurrentID())
}

func TestAddAssignsFreshIDAndSelects(t *testing.T) {
	store := newTestStore(t)
	before := ids(store.List())

	added := store.AddNamed("second")
	require.NotEmpty(t, added.ID)
	require.NotContains(t, before, added.ID)
	require.Equal(t, "second", added.Name)
	require.Equal(t, DefaultServerAddr, added.Server)
	require.Equal(t, len(before)+1, store.Len())
	require.Equal(t, added.ID, store.CurrentID())

	empty := store.AddNamed("")
	require.Equal(t, "", empty.Name)
	require.Equal(t, 3, store.Len())

	kept := store.Add(Server{ID: "fixed", Name: "explicit"})
	require.Equal(t, "fixed", kept.ID)

	clash := store.Add(Server{ID: "fixed", Name: "clash"})
	require.NotEqual(t, "fixed", clash.ID)
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	srv, _ := store.Current()
	srv.Server = "relay:443"
	srv.Token = "t"

	require.NoError(t, store.Update(srv))
	require.Equal(t, 1, store.Len())
	got, _ := store.Current()
	require.Equal(t, "relay:443", got.Server)

	err := store.Update(Server{ID: "nope"})
	require.Error(t, err)
	require.Equal(t, state.ErrorKindNotFound, state.KindOf(err))
	require.Equal(t, 1, store.Len())
}

func TestDelete(t *testing.T) {
	t.Run("unknown id leaves catalog unchanged", func(t *testing.T) {
		store := newTestStore(t)
		before := store.Snapshot()
		err := store.Delete("nope")
		require.Equal(t, state.ErrorKindNotFound, state.KindOf(err))
		require.Equal(t, before, store.Snapshot())
	})

	t.Run("deleting current selects first remaining", func(t *testing.T) {
		store := newTestStore(t)
		first := store.List()[0]
		second := store.AddNamed("two")
		store.AddNamed("three")
		store.Select(second.ID)

		require.NoError(t, store.Delete(second.ID))
		require.Equal(t, 2, store.Len())
		require.Equal(t, first.ID, store.CurrentID())
	})

	t.Run("deleting non current keeps selection", func(t *testing.T) {
		store := newTestStore(t)
		first := store.List()[0]
		second := store.AddNamed("two")
		require.NoError(t, store.Delete(first.ID))
		require.Equal(t, second.ID, store.CurrentID())
	})

	t.Run("deleting the last profile inserts a default", func(t *testing.T) {
		store := newTestStore(t)
		only := store.List()[0]
		require.NoError(t, store.Delete(only.ID))
		list := store.List()
		require.Len(t, list, 1)
		require.NotEqual(t, only.ID, list[0].ID)
		require.Equal(t, list[0].ID, store.CurrentID())
	})
}

func TestDeleteInvariant(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 4; i++ {
		store.AddNamed("p")
	}
	for _, id := range append(ids(store.List()), "absent") {
		before := store.Len()
		err := store.Delete(id)
		after := store.Len()
		if err != nil {
			require.Equal(t, before, after)
			continue
		}
		want := before - 1
		if want < 1 {
			want = 1
		}
		require.Equal(t, want, after)
		require.Contains(t, ids(store.List()), store.CurrentID())
	}
}

func TestRenameAndSelect(t *testing.T) {
	store := newTestStore(t)
	first := store.List()[0]
	second := store.AddNamed("two")

	require.NoError(t, store.Rename(first.ID, ""))
	require.Equal(t, "", store.List()[0].Name)
	require.Equal(t, first.Server, store.List()[0].Server)
	require.Equal(t, state.ErrorKindNotFound, state.KindOf(store.Rename("nope", "x")))

	store.Select(first.ID)
	require.Equal(t, first.ID, store.CurrentID())
	store.Select("nope")
	require.Equal(t, first.ID, store.CurrentID())
	store.Select(second.ID)
	require.Equal(t, second.ID, store.CurrentID())
}

func TestListReturnsCopies(t *testing.T) {
	store := newTestStore(t)
	list := store.List()
	list[0].Name = "mutated"
	require.NotEqual(t, "mutated", store.List()[0].Name)
}

func TestPersistReloadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	store := Open(path, nil)
	added := store.AddNamed("second")
	added.Token = "secret"
	added.RoutingMode = ""
	require.NoError(t, store.Update(added))
	require.NoError(t, store.Rename(store.List()[0].ID, "renamed"))
	require.NoError(t, store.Persist())

	reloaded := Open(path, nil)
	require.Equal(t, store.Snapshot(), reloaded.Snapshot())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "servers")
	require.Contains(t, raw, "current_server_id")
	require.Contains(t, string(data), "\n  \"servers\": [")

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, matches)
}

func TestPersistFailureIsIOFailed(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	store := Open(filepath.Join(blocker, "config.json"), nil)
	err := store.Persist()
	require.Error(t, err)
	require.Equal(t, state.ErrorKindIOFailed, state.KindOf(err))
}

func TestOpenDefaultCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ECHWorkersClient")
	store := OpenDefault(dir, nil)
	require.Equal(t, filepath.Join(dir, "config.json"), store.Path())
	info, err := os.Stat(dir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}
