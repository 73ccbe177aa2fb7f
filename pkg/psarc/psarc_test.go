package psarc

import (
	"bytes"
	"crypto/md5"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/EchoTools/psarcTools/pkg/archive"
	"github.com/EchoTools/psarcTools/pkg/sng"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIV = [16]byte{0xA0, 0xA1, 0xA2, 0xA3, 0xA4, 0xA5, 0xA6, 0xA7, 0xA8, 0xA9, 0xAA, 0xAB, 0xAC, 0xAD, 0xAE, 0xAF}

type testFile struct {
	name string
	data []byte
}

func songContent() []byte {
	return bytes.Repeat([]byte("E|-0-3-5-| "), 9000)
}

func testFiles(t *testing.T) []testFile {
	t.Helper()
	payload, err := sng.Seal(songContent(), testIV, sng.PlatformPC)
	require.NoError(t, err)

	return []testFile{
		{"songs/bin/generic/song_lead.sng", payload},
		{"appid.appid", []byte("248750")},
		{"gfxassets/album_art/art_256.dds", bytes.Repeat([]byte{0xDD, 0x53}, 70000)},
		{"empty.txt", []byte{}},
	}
}

// writeTestArchive creates an archive file from files and returns its path.
func writeTestArchive(t *testing.T, files []testFile, opts ...Option) string {
	t.Helper()
	a := New(opts...)
	for _, f := range files {
		_, err := a.AddFile(f.name, f.data)
		require.NoError(t, err)
	}
	path := filepath.Join(t.TempDir(), "test_p.psarc")
	require.NoError(t, a.Save(path))
	return path
}

func TestOpen(t *testing.T) {
	files := testFiles(t)
	path := writeTestArchive(t, files)

	a, err := Open(path)
	require.NoError(t, err)
	defer a.Close()

	h := a.Header()
	assert.True(t, h.IsTOCEncrypted())
	assert.Equal(t, uint32(len(files)+1), h.NumFiles)
	assert.Equal(t, len(files), a.Len())

	manifestEntry, ok := a.Entry(0)
	require.True(t, ok)
	assert.Equal(t, "songs/bin/generic/song_lead.sng\nappid.appid\ngfxassets/album_art/art_256.dds\nempty.txt", string(manifestEntry.Data))

	list := a.List()
	require.Len(t, list, len(files))
	for i, f := range files {
		assert.Equal(t, EntryInfo{ID: i + 1, Length: uint64(len(f.data)), Name: f.name}, list[i])

		e, ok := a.Lookup(f.name)
		require.True(t, ok, f.name)
		assert.Equal(t, f.data, e.Data)
		assert.Equal(t, md5.Sum([]byte(f.name)), e.Checksum)
	}

	song, _ := a.Lookup("songs/bin/generic/song_lead.sng")
	assert.True(t, song.Encrypted)
	assert.Equal(t, sng.PlatformPC, song.Platform)
	assert.Equal(t, songContent(), song.Decompressed)
	assert.Len(t, song.Decrypted, len(song.Data)-24)

	appid, _ := a.Lookup("appid.appid")
	assert.False(t, appid.Encrypted)
	assert.Nil(t, appid.Decrypted)

	_, ok = a.Lookup("missing")
	assert.False(t, ok)
}

func TestOpenErrors(t *testing.T) {
	t.Run("Missing", func(t *testing.T) {
		_, err := Open(filepath.Join(t.TempDir(), "nope.psarc"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("BadMagic", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.psarc")
		require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("ZZZZ"), 16), 0644))
		_, err := Open(path)
		assert.ErrorIs(t, err, archive.ErrBadMagic)
		assert.ErrorIs(t, err, archive.ErrFormat)
	})

	t.Run("ShortManifest", func(t *testing.T) {
		var buf bytes.Buffer
		ws := &seekableBuffer{Buffer: &buf}
		_, err := archive.Encode(ws, *archive.NewHeader(), []archive.EntryData{
			{Data: []byte("only.txt")},
			{Data: []byte("one")},
			{Data: []byte("two")},
		})
		require.NoError(t, err)

		a, err := NewArchive(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		list := a.List()
		require.Len(t, list, 2)
		assert.Equal(t, "only.txt", list[0].Name)
		assert.Equal(t, "", list[1].Name)

		n, err := a.Extract(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("UndecryptableSng", func(t *testing.T) {
		junk := append([]byte{0x4A, 0, 0, 0, 3, 0, 0, 0}, bytes.Repeat([]byte{0x11}, 64)...)
		path := writeTestArchive(t, []testFile{{"broken.sng", junk}, {"fine.txt", []byte("ok")}})

		a, err := Open(path)
		require.NoError(t, err)
		defer a.Close()

		e, ok := a.Lookup("broken.sng")
		require.True(t, ok)
		assert.True(t, e.Encrypted)
		assert.Equal(t, sng.PlatformUnknown, e.Platform)
		assert.Nil(t, e.Decrypted)
		assert.Equal(t, junk, e.Data)

		fine, _ := a.Lookup("fine.txt")
		assert.Equal(t, []byte("ok"), fine.Data)
	})

	t.Run("TruncatedLastEntry", func(t *testing.T) {
		tail := make([]byte, 1000)
		rand.New(rand.NewSource(3)).Read(tail)
		path := writeTestArchive(t, []testFile{{"good.txt", []byte("intact")}, {"tail.bin", tail}})

		info, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(path, info.Size()-100))

		a, err := Open(path)
		require.NoError(t, err)
		defer a.Close()
		require.Equal(t, 2, a.Len())

		good, ok := a.Lookup("good.txt")
		require.True(t, ok)
		assert.Equal(t, []byte("intact"), good.Data)

		cut, ok := a.Lookup("tail.bin")
		require.True(t, ok)
		assert.Less(t, len(cut.Data), len(tail))

		dir := t.TempDir()
		n, err := a.Extract(dir)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		got, err := os.ReadFile(filepath.Join(dir, "good.txt"))
		require.NoError(t, err)
		assert.Equal(t, []byte("intact"), got)
	})
}

func TestExtract(t *testing.T) {
	files := testFiles(t)
	a, err := Open(writeTestArchive(t, files))
	require.NoError(t, err)
	defer a.Close()

	t.Run("All", func(t *testing.T) {
		out := t.TempDir()
		n, err := a.Extract(out)
		require.NoError(t, err)
		assert.Equal(t, len(files), n)

		for _, f := range files {
			got, err := os.ReadFile(filepath.Join(out, filepath.FromSlash(f.name)))
			require.NoError(t, err, f.name)
			assert.Equal(t, f.data, got, f.name)
		}

		song := filepath.Join(out, "songs", "bin", "generic", "song_lead.sng")
		decompressed, err := os.ReadFile(song + DecompressedSuffix)
		require.NoError(t, err)
		assert.Equal(t, songContent(), decompressed)
		_, err = os.Stat(song + DecryptedSuffix)
		assert.NoError(t, err)
		_, err = os.Stat(filepath.Join(out, "appid.appid"+DecryptedSuffix))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("Pattern", func(t *testing.T) {
		out := t.TempDir()
		n, err := a.Extract(out, WithPattern("songs/**/*.sng"), WithDecrypted(false))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		entries, err := os.ReadDir(filepath.Join(out, "songs", "bin", "generic"))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "song_lead.sng", entries[0].Name())
		_, err = os.Stat(filepath.Join(out, "appid.appid"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("InvalidPattern", func(t *testing.T) {
		_, err := a.Extract(t.TempDir(), WithPattern("songs/[a"))
		assert.Error(t, err)
	})

	t.Run("NoOverwrite", func(t *testing.T) {
		out := t.TempDir()
		existing := filepath.Join(out, "appid.appid")
		require.NoError(t, os.WriteFile(existing, []byte("keep"), 0644))
		_, err := a.Extract(out, WithPattern("appid.appid"), WithOverwrite(false))
		require.NoError(t, err)
		got, _ := os.ReadFile(existing)
		assert.Equal(t, []byte("keep"), got)
	})

	t.Run("PathEscape", func(t *testing.T) {
		evil := New()
		_, err := evil.AddFile("../../escape.txt", []byte("nope"))
		require.NoError(t, err)
		_, err = evil.AddFile("/rooted/ok.txt", []byte("fine"))
		require.NoError(t, err)

		parent := t.TempDir()
		out := filepath.Join(parent, "a", "b")
		n, err := evil.Extract(out)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = os.Stat(filepath.Join(parent, "escape.txt"))
		assert.ErrorIs(t, err, os.ErrNotExist)
		got, err := os.ReadFile(filepath.Join(out, "rooted", "ok.txt"))
		require.NoError(t, err)
		assert.Equal(t, []byte("fine"), got)
	})
}

func TestRewrite(t *testing.T) {
	files := testFiles(t)
	src := writeTestArchive(t, files)

	t.Run("Platform", func(t *testing.T) {
		a, err := Open(src)
		require.NoError(t, err)
		defer a.Close()

		dest := filepath.Join(t.TempDir(), "mac_m.psarc")
		require.NoError(t, a.Rewrite(dest, RewriteOptions{TargetPlatform: sng.PlatformMac}))

		b, err := Open(dest)
		require.NoError(t, err)
		defer b.Close()

		require.Equal(t, a.Len(), b.Len())
		for i, e := range b.Entries() {
			orig := a.Entries()[i]
			assert.Equal(t, orig.Name, e.Name)
			assert.Equal(t, orig.Checksum, e.Checksum)
			if e.Encrypted {
				assert.Equal(t, sng.PlatformMac, e.Platform)
				assert.Equal(t, orig.Decrypted, e.Decrypted)
				assert.Equal(t, orig.Decompressed, e.Decompressed)
				assert.Equal(t, orig.Data[:24], e.Data[:24])
				assert.NotEqual(t, orig.Data, e.Data)
			} else {
				assert.Equal(t, orig.Data, e.Data, e.Name)
			}
		}

		// Entries in the source session are left alone.
		song, _ := a.Lookup("songs/bin/generic/song_lead.sng")
		assert.Equal(t, sng.PlatformPC, song.Platform)

		// Back to PC gives the original payload bytes.
		back := filepath.Join(t.TempDir(), "back_p.psarc")
		require.NoError(t, b.Rewrite(back, RewriteOptions{TargetPlatform: sng.PlatformPC}))
		c, err := Open(back)
		require.NoError(t, err)
		defer c.Close()
		again, _ := c.Lookup(song.Name)
		assert.Equal(t, song.Data, again.Data)
	})

	t.Run("AppID", func(t *testing.T) {
		a, err := Open(src)
		require.NoError(t, err)
		defer a.Close()

		dest := filepath.Join(t.TempDir(), "patched.psarc")
		require.NoError(t, a.Rewrite(dest, RewriteOptions{AppID: "221680"}))

		b, err := Open(dest)
		require.NoError(t, err)
		defer b.Close()

		e, ok := b.Lookup(AppIDName)
		require.True(t, ok)
		assert.Equal(t, []byte("221680"), e.Data)
		assert.Equal(t, uint64(6), e.Length)
		for _, name := range []string{"songs/bin/generic/song_lead.sng", "gfxassets/album_art/art_256.dds"} {
			x, _ := a.Lookup(name)
			y, _ := b.Lookup(name)
			assert.Equal(t, x.Data, y.Data)
		}
	})

	t.Run("NoAppIDEntry", func(t *testing.T) {
		a := New()
		_, err := a.AddFile("only.txt", []byte("x"))
		require.NoError(t, err)
		err = a.Rewrite(filepath.Join(t.TempDir(), "x.psarc"), RewriteOptions{AppID: "1"})
		assert.ErrorIs(t, err, ErrNoAppID)
	})

	t.Run("InPlace", func(t *testing.T) {
		path := writeTestArchive(t, files)
		a, err := Open(path)
		require.NoError(t, err)
		defer a.Close()

		require.NoError(t, a.Rewrite(path, RewriteOptions{TargetPlatform: sng.PlatformMac}))

		leftovers, err := filepath.Glob(path + ".*")
		require.NoError(t, err)
		assert.Empty(t, leftovers, "temporary and lock files are removed")

		b, err := Open(path)
		require.NoError(t, err)
		defer b.Close()
		song, _ := b.Lookup("songs/bin/generic/song_lead.sng")
		assert.Equal(t, sng.PlatformMac, song.Platform)
	})

	t.Run("FailedWriteKeepsDestination", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "keep.psarc")
		require.NoError(t, os.WriteFile(dest, []byte("original"), 0644))

		a := New(WithBlockSize(16)) // block size too small for any table width
		_, err := a.AddFile("x.txt", []byte("data"))
		require.NoError(t, err)
		assert.ErrorIs(t, a.Save(dest), archive.ErrBlockSize)

		got, err := os.ReadFile(dest)
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), got)
		leftovers, _ := filepath.Glob(dest + ".*")
		assert.Empty(t, leftovers)
	})
}

func TestCreate(t *testing.T) {
	t.Run("Duplicate", func(t *testing.T) {
		a := New(WithFlags(archive.FlagIgnoreCase))
		_, err := a.AddFile("Song.sng", nil)
		require.NoError(t, err)
		_, err = a.AddFile("song.SNG", nil)
		assert.ErrorIs(t, err, ErrDuplicateEntry)
		_, err = a.AddFile("bad\nname", nil)
		assert.Error(t, err)
	})

	t.Run("WriteTo", func(t *testing.T) {
		a := New(WithFlags(0), WithBlockSize(4096))
		_, err := a.AddFile("big.bin", bytes.Repeat([]byte("0123456789"), 2000))
		require.NoError(t, err)

		var buf bytes.Buffer
		h, err := a.WriteTo(&seekableBuffer{Buffer: &buf})
		require.NoError(t, err)
		assert.False(t, h.IsTOCEncrypted())
		assert.Equal(t, uint32(4096), h.BlockSize)

		b, err := NewArchive(bytes.NewReader(buf.Bytes()))
		require.NoError(t, err)
		e, ok := b.Lookup("big.bin")
		require.True(t, ok)
		assert.Equal(t, 20000, len(e.Data))
		assert.Equal(t, uint32(1), e.BlockIndex)
		_, ok = b.Entry(2)
		assert.False(t, ok)
	})

	t.Run("AddDir", func(t *testing.T) {
		src := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(src, "songs", "arr"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(src, "songs", "arr", "lead.xml"), []byte("<song/>"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(src, "appid.appid"), []byte("248750"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(src, "appid.appid"+DecryptedSuffix), []byte("skip"), 0644))

		a := New()
		n, err := a.AddDir(src)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		assert.Equal(t, []EntryInfo{
			{ID: 1, Length: 6, Name: "appid.appid"},
			{ID: 2, Length: 7, Name: "songs/arr/lead.xml"},
		}, a.List())
	})

	t.Run("Closed", func(t *testing.T) {
		a := New()
		require.NoError(t, a.Close())
		_, err := a.AddFile("x", nil)
		assert.ErrorIs(t, err, ErrClosed)
		_, err = a.Extract(t.TempDir())
		assert.ErrorIs(t, err, ErrClosed)
	})
}

func TestDefaultOutputDir(t *testing.T) {
	tests := map[string]string{
		"songs_p.psarc":         "songs_p",
		"dir/Songs_M.PSARC":     "dir/Songs_M",
		"archive.bin":           "archive.bin_data",
		"noext":                 "noext_data",
		"/abs/path/cache.psarc": "/abs/path/cache",
	}
	for in, want := range tests {
		assert.Equal(t, want, DefaultOutputDir(in), in)
	}
}

type seekableBuffer struct {
	*bytes.Buffer
	pos int64
}

func (s *seekableBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case 0:
		s.pos = offset
	case 1:
		s.pos += offset
	case 2:
		s.pos = int64(s.Buffer.Len()) + offset
	}
	return s.pos, nil
}

func (s *seekableBuffer) Write(p []byte) (n int, err error) {
	for int64(s.Buffer.Len()) < s.pos {
		s.Buffer.WriteByte(0)
	}
	if s.pos < int64(s.Buffer.Len()) {
		data := s.Buffer.Bytes()
		n = copy(data[s.pos:], p)
		if n < len(p) {
			m, _ := s.Buffer.Write(p[n:])
			n += m
		}
	} else {
		n, err = s.Buffer.Write(p)
	}
	s.pos += int64(n)
	return n, err
}
