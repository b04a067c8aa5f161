package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"
	"github.com/natefinch/atomic"

	"github.com/hupe1980/tmem"
	"github.com/hupe1980/tmem/device"
	"github.com/hupe1980/tmem/resource"
)

var errQuit = errors.New("quit")

const maxListedKeys = 100

// shell executes tmemctl commands against one cache through the device
// handle. Output goes to out.
type shell struct {
	cache     *tmem.Cache
	handle    *device.Handle
	resources *resource.Controller
	out       io.Writer
}

// info is the --json form of the info command.
type info struct {
	Cache     tmem.Stats     `json:"cache"`
	Resources resource.Usage `json:"resources"`
}

var commands = []string{
	"put", "get", "save", "del", "delete",
	"clear", "info", "keys", "fill", "bench",
	"help", "exit", "quit", "q",
}

// exec runs one command line. It returns errQuit for exit commands.
func (s *shell) exec(ctx context.Context, line string) error {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		return errQuit
	case "help", "?":
		s.printHelp()
		return nil
	case "put":
		return s.cmdPut(ctx, args)
	case "get":
		return s.cmdGet(ctx, args)
	case "save":
		return s.cmdSave(ctx, args)
	case "del", "delete":
		return s.cmdDelete(ctx, args)
	case "clear":
		return s.cmdClear(args)
	case "info":
		return s.cmdInfo(args)
	case "keys":
		return s.cmdKeys(args)
	case "fill":
		return s.cmdFill(ctx, args)
	case "bench":
		return s.cmdBench(ctx, args)
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for commands)", cmd)
	}
}

func (s *shell) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(s.out, format, args...)
}

func (s *shell) printHelp() {
	s.printf("Commands:\n")
	s.printf("  put <key> <text|@file>   Store text or a file's contents as the page of key\n")
	s.printf("  get <key>                Show the page of key\n")
	s.printf("  save <key> <path>        Write the page of key to a file\n")
	s.printf("  del <key>                Invalidate key\n")
	s.printf("  clear                    Invalidate every key\n")
	s.printf("  info [--json]            Show cache occupancy\n")
	s.printf("  keys                     List cached keys\n")
	s.printf("  fill <count> [start]     Store count sequential keys\n")
	s.printf("  bench <count>            Benchmark put+get+del\n")
	s.printf("  help                     Show this help\n")
	s.printf("  exit / quit / q          Exit\n")
	s.printf("\nKeys: decimal, 0x hex or 0o octal.\n")
}

func parseKey(s string) (uint64, error) {
	key, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid key %q", s)
	}
	return key, nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid count %q", s)
	}
	return n, nil
}

// pagePayload builds a page from text or, with a leading @, a file.
func pagePayload(arg string) ([]byte, error) {
	var data []byte
	if name, ok := strings.CutPrefix(arg, "@"); ok {
		b, err := os.ReadFile(name) //nolint:gosec // path is intentionally user-controlled
		if err != nil {
			return nil, err
		}
		data = b
	} else {
		data = []byte(arg)
	}

	if len(data) > tmem.PageSize {
		return nil, fmt.Errorf("payload is %s, a page holds %s",
			humanize.IBytes(uint64(len(data))), humanize.IBytes(tmem.PageSize))
	}

	page := make([]byte, tmem.PageSize)
	copy(page, data)
	return page, nil
}

func (s *shell) cmdPut(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: put <key> <text|@file>")
	}
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	page, err := pagePayload(strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	if err := s.handle.Put(ctx, key, page); err != nil {
		return err
	}
	s.printf("OK\n")
	return nil
}

func (s *shell) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: get <key>")
	}
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	page := make([]byte, tmem.PageSize)
	if err := s.handle.Get(ctx, key, page); err != nil {
		return err
	}

	data := bytes.TrimRight(page, "\x00")
	switch {
	case len(data) == 0:
		s.printf("(zero page)\n")
	case utf8.Valid(data) && bytes.IndexByte(data, 0) < 0:
		s.printf("%s\n", data)
	default:
		s.printf("%s", hex.Dump(data[:min(len(data), 256)]))
		if len(data) > 256 {
			s.printf("... %s more\n", humanize.IBytes(uint64(len(data)-256)))
		}
	}
	return nil
}

func (s *shell) cmdSave(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: save <key> <path>")
	}
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	page := make([]byte, tmem.PageSize)
	if err := s.handle.Get(ctx, key, page); err != nil {
		return err
	}
	if err := atomic.WriteFile(args[1], bytes.NewReader(page)); err != nil {
		return fmt.Errorf("writing %s: %w", args[1], err)
	}
	s.printf("wrote %s to %s\n", humanize.IBytes(tmem.PageSize), args[1])
	return nil
}

func (s *shell) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: del <key>")
	}
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}
	existed := s.cache.Contains(key)
	if err := s.handle.Invalidate(ctx, key); err != nil {
		return err
	}
	if existed {
		s.printf("deleted\n")
	} else {
		s.printf("not found\n")
	}
	return nil
}

func (s *shell) cmdClear(args []string) error {
	if len(args) != 0 {
		return errors.New("usage: clear")
	}
	before := s.cache.CurrentPages()
	s.cache.InvalidateAll()
	s.printf("invalidated %s pages\n", humanize.Comma(before))
	return nil
}

func (s *shell) cmdInfo(args []string) error {
	st := s.cache.Stats()
	u := s.resources.Usage()

	if len(args) == 1 && args[0] == "--json" {
		data, err := json.MarshalIndent(info{Cache: st, Resources: u}, "", "  ")
		if err != nil {
			return err
		}
		s.printf("%s\n", data)
		return nil
	}
	if len(args) != 0 {
		return errors.New("usage: info [--json]")
	}

	used := float64(0)
	if st.Capacity > 0 {
		used = 100 * float64(st.Pages) / float64(st.Capacity)
	}
	s.printf("capacity:     %s pages (%s)\n", humanize.Comma(int64(st.Capacity)), humanize.IBytes(uint64(st.Bytes)))
	s.printf("cached:       %s pages (%.1f%%)\n", humanize.Comma(st.Pages), used)
	s.printf("free:         %s pages\n", humanize.Comma(int64(st.Free)))
	s.printf("quarantined:  %d\n", st.Quarantined)
	s.printf("shards:       %d\n", st.Shards)
	s.printf("page size:    %s\n", humanize.IBytes(uint64(st.PageSize)))

	if u.MemoryLimit > 0 {
		s.printf("memory:       %s of %s reserved\n",
			humanize.IBytes(uint64(u.MemoryReserved)), humanize.IBytes(uint64(u.MemoryLimit)))
	} else {
		s.printf("memory:       %s reserved\n", humanize.IBytes(uint64(u.MemoryReserved)))
	}
	s.printf("transferred:  %s (%d throttled, %v waiting)\n",
		humanize.IBytes(uint64(u.IOBytes)), u.IOWaits, u.IOWaitTime.Round(time.Millisecond))
	return nil
}

func (s *shell) cmdKeys(args []string) error {
	if len(args) != 0 {
		return errors.New("usage: keys")
	}
	keys := s.cache.Keys()
	if keys.IsEmpty() {
		s.printf("(empty)\n")
		return nil
	}

	it := keys.Iterator()
	for i := 0; it.HasNext() && i < maxListedKeys; i++ {
		s.printf("%d\n", it.Next())
	}
	if n := keys.GetCardinality(); n > maxListedKeys {
		s.printf("... and %s more\n", humanize.Comma(int64(n-maxListedKeys))) //nolint:gosec // n <= capacity
	}
	return nil
}

// fillPage writes key into every word of page so pages of different keys
// differ.
func fillPage(page []byte, key uint64) {
	for i := 0; i+8 <= len(page); i += 8 {
		binary.LittleEndian.PutUint64(page[i:], key)
	}
}

func (s *shell) cmdFill(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: fill <count> [start]")
	}
	count, err := parseCount(args[0])
	if err != nil {
		return err
	}
	var start uint64
	if len(args) == 2 {
		if start, err = parseKey(args[1]); err != nil {
			return err
		}
	}

	page := make([]byte, tmem.PageSize)
	stored := 0
	for i := range count {
		key := start + uint64(i) //nolint:gosec // i >= 0
		fillPage(page, key)
		if err := s.handle.Put(ctx, key, page); err != nil {
			if errors.Is(err, tmem.ErrOutOfSlots) {
				s.printf("cache full after %s pages\n", humanize.Comma(int64(stored)))
				return nil
			}
			return err
		}
		stored++
	}
	s.printf("stored %s pages\n", humanize.Comma(int64(stored)))
	return nil
}

func (s *shell) cmdBench(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: bench <count>")
	}
	count, err := parseCount(args[0])
	if err != nil {
		return err
	}

	// Use keys far from anything a user is likely to have put.
	const base = uint64(1) << 62
	page := make([]byte, tmem.PageSize)
	out := make([]byte, tmem.PageSize)

	start := time.Now()
	done := 0
	for i := range count {
		key := base + uint64(i) //nolint:gosec // i >= 0
		fillPage(page, key)
		if err := s.handle.Put(ctx, key, page); err != nil {
			if errors.Is(err, tmem.ErrOutOfSlots) {
				break
			}
			return err
		}
		if err := s.handle.Get(ctx, key, out); err != nil {
			return err
		}
		if !bytes.Equal(page, out) {
			return fmt.Errorf("key %d: page read back differs", key)
		}
		done++
	}
	elapsed := time.Since(start)

	for i := range done {
		if err := s.handle.Invalidate(ctx, base+uint64(i)); err != nil { //nolint:gosec // i >= 0
			return err
		}
	}

	if done == 0 {
		s.printf("cache full, nothing benchmarked\n")
		return nil
	}
	perOp := elapsed / time.Duration(done)
	s.printf("%s put+get in %v (%v per pair, %s pairs/s, %s/s)\n",
		humanize.Comma(int64(done)), elapsed.Round(time.Microsecond), perOp,
		humanize.Comma(int64(float64(done)/elapsed.Seconds())),
		humanize.IBytes(uint64(float64(2*done*tmem.PageSize)/elapsed.Seconds())))
	return nil
}
