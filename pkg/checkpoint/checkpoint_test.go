package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shadowstat/internal/models"
)

type sample struct {
	S  float64 `json:"S"`
	Q2 float64 `json:"Q2"`
}

func ptr(v float64) *float64 { return &v }

func stores(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	var mem *BadgerStore
	t.Cleanup(func() {
		if mem != nil {
			mem.Close()
		}
	})
	return map[string]func() Store{
		"file": func() Store {
			s, err := NewFileStore(dir)
			require.NoError(t, err)
			return s
		},
		"badger": func() Store {
			if mem == nil {
				var err error
				mem, err = OpenBadgerStore(BadgerConfig{InMemory: true})
				require.NoError(t, err)
			}
			return mem
		},
	}
}

func TestDigestStability(t *testing.T) {
	f, err := models.NewField(4, 3, 1)
	require.NoError(t, err)
	f.Data[5] = 0.25

	a := NewDigest("perm").Field("residual", f).Float("q", 0.85).Int("seed", 123).Sum()
	b := NewDigest("perm").Int("seed", 123).Field("residual", f).Float("q", 0.85).Sum()
	assert.Equal(t, a, b, "parameter order must not matter")
	assert.Len(t, a, 64)

	g := f.Clone()
	g.Data[5] = 0.2500000001
	assert.NotEqual(t, a, NewDigest("perm").Field("residual", g).Float("q", 0.85).Int("seed", 123).Sum())
	assert.NotEqual(t, a, NewDigest("perm").Field("residual", f).Float("q", 0.85).Int("seed", 124).Sum())
	assert.NotEqual(t, a, NewDigest("boot").Field("residual", f).Float("q", 0.85).Int("seed", 123).Sum())

	// Same data with a different shape is a different input
	h := &models.Field{Data: f.Data, Width: 3, Height: 4, Scale: 1}
	assert.NotEqual(t, a, NewDigest("perm").Field("residual", h).Float("q", 0.85).Int("seed", 123).Sum())

	m := models.FullMask(4, 3)
	withMask := NewDigest("perm").Mask("region", m).Sum()
	m.Bits[0] = false
	assert.NotEqual(t, withMask, NewDigest("perm").Mask("region", m).Sum())
	assert.NotEqual(t, NewDigest("x").Mask("m", nil).Sum(), NewDigest("x").Sum())
}

func TestStageResumeParity(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open()
			st, err := Open[float64](store, "perm", "abcdef0123456789", 10)
			require.NoError(t, err)
			assert.Zero(t, st.Iterations())

			require.NoError(t, st.Record(ptr(0.1)))
			require.NoError(t, st.Record(nil))
			require.NoError(t, st.Record(ptr(-0.3)))
			require.NoError(t, st.Close())

			again, err := Open[float64](store, "perm", "abcdef0123456789", 10)
			require.NoError(t, err)
			assert.Equal(t, 3, again.Iterations())
			assert.Equal(t, 2, again.ValidCount())
			if diff := cmp.Diff([]float64{0.1, -0.3}, again.Values()); diff != "" {
				t.Errorf("resumed values mismatch (-want +got):\n%s", diff)
			}
			assert.False(t, again.Complete())

			require.NoError(t, again.Record(ptr(0.7)))
			require.NoError(t, again.MarkComplete())
			assert.ErrorIs(t, again.Record(ptr(1)), ErrStageComplete)

			final, err := Open[float64](store, "perm", "abcdef0123456789", 10)
			require.NoError(t, err)
			assert.True(t, final.Complete())
			assert.Equal(t, []float64{0.1, -0.3, 0.7}, final.Values())
		})
	}
}

func TestStageStructValues(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open()
			st, err := Open[sample](store, "boot", "feedface", 4)
			require.NoError(t, err)
			require.NoError(t, st.Record(&sample{S: 0.5, Q2: -0.25}))

			again, err := Open[sample](store, "boot", "feedface", 4)
			require.NoError(t, err)
			assert.Equal(t, []sample{{S: 0.5, Q2: -0.25}}, again.Values())
		})
	}
}

func TestStageDigestIsolation(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open()
			a, err := Open[float64](store, "iso", "aaaaaaaa11", 5)
			require.NoError(t, err)
			require.NoError(t, a.Record(ptr(1)))

			b, err := Open[float64](store, "iso", "bbbbbbbb22", 5)
			require.NoError(t, err)
			assert.Zero(t, b.Iterations())
			require.NoError(t, b.Record(ptr(2)))
			require.NoError(t, b.Record(ptr(3)))

			a2, err := Open[float64](store, "iso", "aaaaaaaa11", 5)
			require.NoError(t, err)
			assert.Equal(t, []float64{1}, a2.Values())
		})
	}
}

func TestStageTotalMismatchRestarts(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open()
			st, err := Open[float64](store, "tot", "d1d1d1d1", 5)
			require.NoError(t, err)
			require.NoError(t, st.Record(ptr(1)))

			again, err := Open[float64](store, "tot", "d1d1d1d1", 6)
			require.NoError(t, err)
			assert.Zero(t, again.Iterations())
			assert.Empty(t, again.Values())
		})
	}
}

func TestStageTruncatesStaleValue(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open()
			st, err := Open[float64](store, "crash", "c0ffee00", 10)
			require.NoError(t, err)
			require.NoError(t, st.Record(ptr(0.5)))

			// A value appended without its metadata update
			require.NoError(t, store.Append("crash", "c0ffee00", []byte("0.9")))

			again, err := Open[float64](store, "crash", "c0ffee00", 10)
			require.NoError(t, err)
			assert.Equal(t, []float64{0.5}, again.Values())
			assert.Equal(t, 1, again.Iterations())

			_, raw, err := store.Load("crash", "c0ffee00")
			require.NoError(t, err)
			assert.Len(t, raw, 1, "stale value removed from the store")

			require.NoError(t, again.Record(ptr(0.6)))
			final, err := Open[float64](store, "crash", "c0ffee00", 10)
			require.NoError(t, err)
			assert.Equal(t, []float64{0.5, 0.6}, final.Values())
		})
	}
}

func TestStageIterationsCappedAtTotal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.WriteMeta("cap", "12345678", Meta{Digest: "12345678", Iterations: 50, Total: 3}))

	st, err := Open[float64](store, "cap", "12345678", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Iterations())
}

func TestFileStoreNames(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	digest := "0123456789abcdef"
	st, err := Open[float64](store, "perm", digest, 4)
	require.NoError(t, err)
	require.NoError(t, st.Record(ptr(0.25)))

	assert.FileExists(t, filepath.Join(dir, "perm_01234567_meta.json"))
	assert.FileExists(t, filepath.Join(dir, "perm_01234567_values.jsonl"))
	assert.NoFileExists(t, filepath.Join(dir, "perm_01234567_meta.json.tmp"))
}

func TestFileStoreLegacyNames(t *testing.T) {
	dir := t.TempDir()
	digest := "legacydigest"
	meta := `{"digest":"legacydigest","iterations":2,"values":2,"complete":false,"total":8}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "perm_meta.json"), []byte(meta), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "perm_values.jsonl"), []byte("0.1\nnot json\n0.2\n"), 0644))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	st, err := Open[float64](store, "perm", digest, 8)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2}, st.Values())
	assert.Equal(t, 2, st.Iterations())

	// A legacy file for another digest is ignored
	other, err := NewFileStore(dir)
	require.NoError(t, err)
	fresh, err := Open[float64](other, "perm", "someotherdigest", 8)
	require.NoError(t, err)
	assert.Zero(t, fresh.Iterations())
}

func TestFileStoreUnparseableMeta(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad_deadbeef_meta.json"), []byte("{"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad_deadbeef_values.jsonl"), []byte("1\n2\n"), 0644))

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	st, err := Open[float64](store, "bad", "deadbeef", 5)
	require.NoError(t, err)
	assert.Zero(t, st.Iterations())
	assert.Empty(t, st.Values())
}

func TestStorageErrorOnWriteFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	st, err := Open[float64](store, "w", "77777777", 5)
	require.NoError(t, err)

	// Replace the value log with a directory so appends fail
	values := filepath.Join(dir, "w_77777777_values.jsonl")
	os.Remove(values)
	require.NoError(t, os.Mkdir(values, 0755))

	err = st.Record(ptr(1))
	var se *StorageError
	require.True(t, errors.As(err, &se), "got %v", err)
	assert.Equal(t, "w", se.Stage)
}

func TestOpenValidation(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = Open[float64](store, "x", "", 5)
	assert.Error(t, err)
	_, err = Open[float64](store, "x", "abc", 0)
	assert.Error(t, err)
	_, err = Open[float64](nil, "x", "abc", 5)
	assert.Error(t, err)
}

func rawInts(t *testing.T, raw []json.RawMessage) []int {
	t.Helper()
	out := make([]int, len(raw))
	for i, r := range raw {
		require.NoError(t, json.Unmarshal(r, &out[i]))
	}
	return out
}

func seq(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func TestBadgerAppendKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		require.NoError(t, store.Append("perm", "d1", json.RawMessage(strconv.Itoa(i))))
	}
	_, raw, err := store.Load("perm", "d1")
	require.NoError(t, err)
	assert.Equal(t, seq(0, 300), rawInts(t, raw))

	// Appends after a truncation continue from the cut
	require.NoError(t, store.Truncate("perm", "d1", 120))
	require.NoError(t, store.Append("perm", "d1", json.RawMessage("-1")))
	_, raw, err = store.Load("perm", "d1")
	require.NoError(t, err)
	assert.Equal(t, append(seq(0, 120), -1), rawInts(t, raw))

	// Another digest of the same stage counts independently
	require.NoError(t, store.Append("perm", "d2", json.RawMessage("7")))
	_, raw, err = store.Load("perm", "d2")
	require.NoError(t, err)
	assert.Equal(t, []int{7}, rawInts(t, raw))

	require.NoError(t, store.Clear("perm", "d2"))
	require.NoError(t, store.Append("perm", "d2", json.RawMessage("8")))
	_, raw, err = store.Load("perm", "d2")
	require.NoError(t, err)
	assert.Equal(t, []int{8}, rawInts(t, raw))
	require.NoError(t, store.Close())

	// A fresh handle recounts the persisted values before appending
	reopened, err := OpenBadgerStore(BadgerConfig{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Append("perm", "d1", json.RawMessage("-2")))
	_, raw, err = reopened.Load("perm", "d1")
	require.NoError(t, err)
	assert.Equal(t, append(seq(0, 120), -1, -2), rawInts(t, raw))
}
