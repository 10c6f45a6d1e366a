package remote

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/folio/internal/tree"
)

func sampleDoc(session string, version uint64) Document {
	return Document{
		Files:       tree.Forest{tree.NewFile("a", "A")},
		LastUpdated: time.Unix(1700000000, 0).UTC(),
		Origin:      &Origin{Session: session, Version: version},
	}
}

func TestDecodeDocument(t *testing.T) {
	doc, err := DecodeDocument([]byte(`{"lastUpdated":"2024-01-02T03:04:05Z","extra":1}`))
	require.NoError(t, err)
	require.NotNil(t, doc.Files)
	require.Empty(t, doc.Files)
	require.Nil(t, doc.Origin)

	_, err = DecodeDocument([]byte(`{"files":[{"id":"","name":"x","type":"file"}]}`))
	require.Error(t, err)

	_, err = DecodeDocument([]byte(`[]`))
	require.Error(t, err)
}

func TestEncodeDecodeDocument(t *testing.T) {
	want := sampleDoc("s1", 3)
	data, err := EncodeDocument(want)
	require.NoError(t, err)

	got, err := DecodeDocument(data)
	require.NoError(t, err)
	require.Equal(t, tree.Clone(want.Files), got.Files)
	require.True(t, want.LastUpdated.Equal(got.LastUpdated))
	require.Equal(t, want.Origin, got.Origin)
}

func TestMergeJSON(t *testing.T) {
	merged, err := MergeJSON(
		[]byte(`{"files":[1],"owner":"x","lastUpdated":"old"}`),
		[]byte(`{"files":[2,3],"lastUpdated":"new"}`),
	)
	require.NoError(t, err)
	require.JSONEq(t, `{"files":[2,3],"owner":"x","lastUpdated":"new"}`, string(merged))

	merged, err = MergeJSON(nil, []byte(`{"files":[]}`))
	require.NoError(t, err)
	require.JSONEq(t, `{"files":[]}`, string(merged))

	_, err = MergeJSON([]byte(`{`), []byte(`{}`))
	require.Error(t, err)
}

func TestMemoryStore_RequiresAuth(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(NewHub())

	_, err := s.Get(ctx, "doc")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.ErrorIs(t, s.Merge(ctx, "doc", sampleDoc("s", 1)), ErrNotAuthenticated)
	_, err = s.Subscribe(ctx, "doc", func(Document) {}, nil)
	require.ErrorIs(t, err, ErrNotAuthenticated)

	require.NoError(t, s.Authenticate(ctx))
	require.NoError(t, s.Authenticate(ctx))
	_, err = s.Get(ctx, "doc")
	require.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestMemoryStore_MergeAndGet(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	s := NewMemoryStore(hub)
	require.NoError(t, s.Authenticate(ctx))

	require.NoError(t, s.Merge(ctx, "doc", sampleDoc("s", 1)))
	next := sampleDoc("s", 2)
	next.Files = tree.Forest{tree.NewFolder("f", "F")}
	require.NoError(t, s.Merge(ctx, "doc", next))

	got, err := s.Get(ctx, "doc")
	require.NoError(t, err)
	require.Len(t, got.Files, 1)
	require.Equal(t, "f", got.Files[0].ID)
	require.Equal(t, uint64(2), got.Origin.Version)
	require.Equal(t, 2, hub.Writes("doc"))
}

func TestMemoryStore_SubscribeSeesEveryWrite(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	writer := NewMemoryStore(hub)
	reader := NewMemoryStore(hub)
	require.NoError(t, writer.Authenticate(ctx))
	require.NoError(t, reader.Authenticate(ctx))

	var mu sync.Mutex
	var versions []uint64
	sub, err := reader.Subscribe(ctx, "doc", func(d Document) {
		mu.Lock()
		defer mu.Unlock()
		versions = append(versions, d.Origin.Version)
	}, nil)
	require.NoError(t, err)

	for v := uint64(1); v <= 3; v++ {
		require.NoError(t, writer.Merge(ctx, "doc", sampleDoc("w", v)))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(versions) == 3
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []uint64{1, 2, 3}, versions)

	sub.Unsubscribe()
	sub.Unsubscribe()
	require.NoError(t, writer.Merge(ctx, "doc", sampleDoc("w", 4)))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	require.Len(t, versions, 3)
	mu.Unlock()
}

func TestMemoryStore_Faults(t *testing.T) {
	ctx := context.Background()
	hub := NewHub()
	s := NewMemoryStore(hub)

	boom := stderrors.New("boom")
	s.FailAuth(boom)
	require.ErrorIs(t, s.Authenticate(ctx), boom)
	s.FailAuth(nil)
	require.NoError(t, s.Authenticate(ctx))

	s.FailMerges(boom)
	require.ErrorIs(t, s.Merge(ctx, "doc", sampleDoc("s", 1)), boom)
	require.NoError(t, s.Merge(ctx, "doc", sampleDoc("s", 2)))
	require.Equal(t, 1, hub.Writes("doc"))

	s.FailGet(boom)
	_, err := s.Get(ctx, "doc")
	require.ErrorIs(t, err, boom)

	errCh := make(chan error, 1)
	_, err = s.Subscribe(ctx, "doc", func(Document) {}, func(err error) { errCh <- err })
	require.NoError(t, err)
	hub.Fail("doc", boom)
	select {
	case got := <-errCh:
		require.ErrorIs(t, got, boom)
	case <-time.After(time.Second):
		t.Fatal("subscription error not delivered")
	}
}

func TestOpen_Schemes(t *testing.T) {
	s, err := Open("memory://shared-test", nil)
	require.NoError(t, err)
	mem, ok := s.(*MemoryStore)
	require.True(t, ok)
	require.Same(t, NamedHub("shared-test"), mem.Hub())

	s, err = Open("postgres://user@localhost/folio?sslmode=disable", nil)
	require.NoError(t, err)
	_, ok = s.(*PostgresStore)
	require.True(t, ok)

	s, err = Open("https://docs.example.com", nil)
	require.NoError(t, err)
	_, ok = s.(*HTTPStore)
	require.True(t, ok)

	_, err = Open("ftp://nope", nil)
	require.ErrorContains(t, err, "unsupported")

	_, err = Open("  ", nil)
	require.Error(t, err)
}

func TestPostgresStore_NotAuthenticated(t *testing.T) {
	s, err := NewPostgresStore("postgres://user@localhost/folio", nil)
	require.NoError(t, err)
	_, err = s.Get(context.Background(), "doc")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	require.NoError(t, s.Close())

	_, err = NewPostgresStore(" ", nil)
	require.Error(t, err)
}
