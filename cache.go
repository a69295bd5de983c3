package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// MatchCache persists the matched address list for one whole deduped PUT
// response (the entire stdout.txt/stderr.txt concatenation fed to a single
// processFuzzerRequest call, not an individual line) across process
// restarts, keyed by a SHA-256 hash of the response bytes. This is
// distinct from — and does not replace — bbmatch.go's
// lineToXrefsCache/lineToMatchItemsCache, which are the per-line caches
// bb_match.py's line_to_xrefs_cache/line_to_matchitems_cache were ported
// to; those stay in-memory-only maps scoped to a single process, since
// nothing in the Python reference persists them. This cache instead
// exists so a fuzz server that gets restarted mid-campaign doesn't have to
// re-run the matcher over a PUT response it already scored before the
// restart; it is gated on FUZZ_CACHE_PATH, an environment variable this
// port adds on top of fuzz_server.py's documented FUZZ_* surface.
//
// A cache opened with an empty path behaves as a pure in-memory map, so
// callers needn't special-case FUZZ_CACHE_PATH being unset.
type MatchCache struct {
	conn *sqlite.Conn
	mem  map[string][]byte
}

// OpenMatchCache opens (creating if absent) a SQLite-backed cache at
// path. An empty path returns a cache backed only by an in-memory map.
func OpenMatchCache(path string) (*MatchCache, error) {
	if path == "" {
		return &MatchCache{mem: make(map[string][]byte)}, nil
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenCreate, sqlite.OpenReadWrite, sqlite.OpenWAL)
	if err != nil {
		return nil, fmt.Errorf("open match cache: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	} {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	ddl := `
CREATE TABLE IF NOT EXISTS response_matches (
    response_hash TEXT PRIMARY KEY,
    result TEXT NOT NULL
);
`
	if err := sqlitex.ExecuteScript(conn, ddl, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &MatchCache{conn: conn}, nil
}

// Close releases the backing SQLite connection, if any.
func (c *MatchCache) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

func responseHash(response []byte) string {
	h := sha256.Sum256(response)
	return hex.EncodeToString(h[:])
}

// Get looks up the cached result for response, decoding it into dst (a
// pointer to a JSON-marshalable value, e.g. *[]Addr matched addresses).
// ok is false on a cache miss.
func (c *MatchCache) Get(response []byte, dst any) (ok bool, err error) {
	key := responseHash(response)

	if c.conn == nil {
		raw, hit := c.mem[key]
		if !hit {
			return false, nil
		}
		return true, json.Unmarshal(raw, dst)
	}

	stmt, err := c.conn.Prepare(`SELECT result FROM response_matches WHERE response_hash = ?`)
	if err != nil {
		return false, err
	}
	defer func() { _ = stmt.Finalize() }()

	stmt.BindText(1, key)
	hasRow, err := stmt.Step()
	if err != nil {
		return false, err
	}
	if !hasRow {
		return false, nil
	}
	raw := stmt.ColumnText(0)
	if err := stmt.Reset(); err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), dst)
}

// Put stores val (marshaled to JSON) under response's hash, replacing any
// prior entry.
func (c *MatchCache) Put(response []byte, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	key := responseHash(response)

	if c.conn == nil {
		c.mem[key] = raw
		return nil
	}

	stmt, err := c.conn.Prepare(`INSERT OR REPLACE INTO response_matches (response_hash, result) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Finalize() }()

	stmt.BindText(1, key)
	stmt.BindText(2, string(raw))
	if _, err := stmt.Step(); err != nil {
		return err
	}
	return stmt.Reset()
}
