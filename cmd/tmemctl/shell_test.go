package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tmem"
	"github.com/hupe1980/tmem/device"
	"github.com/hupe1980/tmem/resource"
)

func newShell(t *testing.T, capacity int) (*shell, *bytes.Buffer) {
	t.Helper()

	rc := resource.NewController(resource.Config{})
	c, err := tmem.New(t.Context(), tmem.WithCapacity(capacity), tmem.WithResourceController(rc))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	h, err := device.New(c, device.WithResourceController(rc)).Open()
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	var out bytes.Buffer
	return &shell{cache: c, handle: h, resources: rc, out: &out}, &out
}

// run executes line and returns what it printed.
func (s *shell) run(t *testing.T, line string) string {
	t.Helper()
	buf := s.out.(*bytes.Buffer)
	buf.Reset()
	require.NoError(t, s.exec(t.Context(), line))
	return buf.String()
}

func TestShell_PutGetDelete(t *testing.T) {
	sh, _ := newShell(t, 4)

	assert.Equal(t, "OK\n", sh.run(t, "put 7 hello world"))
	assert.Equal(t, "hello world\n", sh.run(t, "get 7"))
	assert.Equal(t, "deleted\n", sh.run(t, "del 7"))
	assert.Equal(t, "not found\n", sh.run(t, "delete 7"))

	err := sh.exec(t.Context(), "get 7")
	assert.ErrorIs(t, err, tmem.ErrNotFound)
}

func TestShell_HexKeysAndBinaryPages(t *testing.T) {
	sh, _ := newShell(t, 4)

	sh.run(t, "fill 1 0x10")
	assert.True(t, sh.cache.Contains(16))

	out := sh.run(t, "get 16")
	assert.Contains(t, out, "00000000  10 00 00 00 00 00 00 00")
	assert.Contains(t, out, "more")
}

func TestShell_PutFileAndSave(t *testing.T) {
	sh, _ := newShell(t, 4)
	dir := t.TempDir()

	src := filepath.Join(dir, "in.bin")
	require.NoError(t, os.WriteFile(src, []byte("from a file"), 0o600))

	sh.run(t, "put 1 @"+src)

	dst := filepath.Join(dir, "out.bin")
	assert.Contains(t, sh.run(t, "save 1 "+dst), "wrote 4.0 KiB")

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Len(t, data, tmem.PageSize)
	assert.Equal(t, "from a file", string(bytes.TrimRight(data, "\x00")))
}

func TestShell_PayloadTooLarge(t *testing.T) {
	sh, _ := newShell(t, 4)

	err := sh.exec(t.Context(), "put 1 "+strings.Repeat("x", tmem.PageSize+1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a page holds 4.0 KiB")
	assert.False(t, sh.cache.Contains(1))
}

func TestShell_FillUntilFull(t *testing.T) {
	sh, _ := newShell(t, 3)

	assert.Equal(t, "cache full after 3 pages\n", sh.run(t, "fill 5"))
	assert.Equal(t, int64(3), sh.cache.CurrentPages())

	assert.Equal(t, "invalidated 3 pages\n", sh.run(t, "clear"))
	assert.Equal(t, int64(0), sh.cache.CurrentPages())
}

func TestShell_Keys(t *testing.T) {
	sh, _ := newShell(t, 8)

	assert.Equal(t, "(empty)\n", sh.run(t, "keys"))

	sh.run(t, "put 9 a")
	sh.run(t, "put 3 b")
	assert.Equal(t, "3\n9\n", sh.run(t, "keys"))
}

func TestShell_Info(t *testing.T) {
	sh, _ := newShell(t, 8)
	sh.run(t, "fill 2")

	out := sh.run(t, "info")
	assert.Contains(t, out, "capacity:     8 pages (32 KiB)")
	assert.Contains(t, out, "cached:       2 pages (25.0%)")
	assert.Contains(t, out, "free:         6 pages")
	assert.Contains(t, out, "memory:       32 KiB reserved")
	assert.Contains(t, out, "transferred:  8.0 KiB (0 throttled")

	var got info
	require.NoError(t, json.Unmarshal([]byte(sh.run(t, "info --json")), &got))
	assert.Equal(t, 8, got.Cache.Capacity)
	assert.Equal(t, int64(2), got.Cache.Pages)
	assert.Equal(t, 6, got.Cache.Free)
	assert.Equal(t, tmem.PageSize, got.Cache.PageSize)
	assert.Equal(t, int64(8*tmem.PageSize), got.Resources.MemoryReserved)
	assert.Equal(t, int64(2*tmem.PageSize), got.Resources.IOBytes)
}

func TestShell_Bench(t *testing.T) {
	sh, _ := newShell(t, 16)
	sh.run(t, "put 1 keep")

	assert.Contains(t, sh.run(t, "bench 8"), "8 put+get")
	// bench cleans up after itself.
	assert.Equal(t, int64(1), sh.cache.CurrentPages())
	assert.Equal(t, "keep\n", sh.run(t, "get 1"))
}

func TestShell_Errors(t *testing.T) {
	sh, _ := newShell(t, 4)

	tests := []string{
		"bogus",
		"put",
		"put 1",
		"put nope x",
		"get",
		"get -1",
		"save 1",
		"del",
		"clear now",
		"info --yaml",
		"keys all",
		"fill",
		"fill 0",
		"fill 1 2 3",
		"bench",
		"bench x",
	}
	for _, line := range tests {
		t.Run(line, func(t *testing.T) {
			assert.Error(t, sh.exec(t.Context(), line))
		})
	}
}

func TestShell_QuitAndHelp(t *testing.T) {
	sh, _ := newShell(t, 4)

	for _, line := range []string{"exit", "quit", "q", "QUIT"} {
		assert.ErrorIs(t, sh.exec(t.Context(), line), errQuit)
	}
	assert.Contains(t, sh.run(t, "help"), "put <key>")
	assert.Empty(t, sh.run(t, "   "))
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"0", 0},
		{"42", 42},
		{"0x2a", 42},
		{"0o52", 42},
		{"18446744073709551615", 1<<64 - 1},
	}
	for _, tt := range tests {
		got, err := parseKey(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := parseKey("18446744073709551616")
	assert.Error(t, err)
}

func TestCompleter(t *testing.T) {
	assert.Equal(t, []string{"del", "delete"}, completer("de"))
	assert.Equal(t, []string{"info"}, completer("IN"))
	assert.Empty(t, completer("z"))
}

func TestRunScript(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out bytes.Buffer
	err := run(t.Context(), []string{"-n", "4", "-c", "put 1 one; put 2 two; get 2; info --json"}, &out, io.Discard)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "OK\nOK\ntwo\n{"))

	out.Reset()
	err = run(t.Context(), []string{"-n", "4", "-c", "get 1"}, &out, io.Discard)
	require.ErrorIs(t, err, tmem.ErrNotFound)

	out.Reset()
	require.NoError(t, run(t.Context(), []string{"-c", "quit; get 1"}, &out, io.Discard))
	assert.Empty(t, out.String())
}

func TestRun_PrintConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	var out bytes.Buffer
	require.NoError(t, run(t.Context(), []string{"--print-config", "-n", "12"}, &out, io.Discard))
	assert.Contains(t, out.String(), `"capacity": 12`)
}

func TestRun_Help(t *testing.T) {
	var errOut bytes.Buffer
	require.NoError(t, run(t.Context(), []string{"--help"}, io.Discard, &errOut))
	assert.Contains(t, errOut.String(), "--capacity")
}
