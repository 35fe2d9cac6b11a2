// SPDX-License-Identifier: MIT

// Package cachestore persists fetched day payloads and their normalized
// records, keyed by (lineup, date). Unit metadata and records live in a
// badger database; raw payloads are gzip files written atomically beside
// it. A newer payload supersedes the previous generation without deleting
// it, until an explicit purge.
package cachestore

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/th0ma7/gracenote2epg/internal/guide"
	"github.com/th0ma7/gracenote2epg/internal/log"
)

const (
	unitPrefix = "unit:"
	recPrefix  = "rec:"
)

// Generation records one superseded payload revision.
type Generation struct {
	Revision    int       `json:"revision"`
	Fingerprint string    `json:"fingerprint"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// Unit is the persisted metadata for one (lineup, date) cache granule.
type Unit struct {
	Lineup      string       `json:"lineup"`
	Date        string       `json:"date"`
	State       UnitState    `json:"state"`
	PrevState   UnitState    `json:"prevState,omitempty"`
	Revision    int          `json:"revision"`
	Fingerprint string       `json:"fingerprint"`
	FetchedAt   time.Time    `json:"fetchedAt"`
	PayloadSize int64        `json:"payloadSize"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	Superseded  []Generation `json:"superseded,omitempty"`
}

// PutResult classifies what a Put did with the payload.
type PutResult int

const (
	PutNew PutResult = iota
	PutChanged
	PutUnchanged
)

func (r PutResult) String() string {
	switch r {
	case PutNew:
		return "new"
	case PutChanged:
		return "changed"
	case PutUnchanged:
		return "unchanged"
	}
	return "unknown"
}

// Store is the on-disk day-unit cache. Writes to one key are serialized;
// reads of committed units run unrestricted.
type Store struct {
	db     *badger.DB
	dir    string
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Open creates or reopens the cache under dir. Units a crash left
// mid-fetch are reset to Stale so the next run retries them.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, "payloads"), 0o755); err != nil {
		return nil, ioError("open", "-", "-", err)
	}
	opts := badger.DefaultOptions(filepath.Join(dir, "meta")).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, ioError("open", "-", "-", err)
	}

	s := &Store{
		db:     db,
		dir:    dir,
		logger: log.WithComponent("cachestore"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
	if err := s.recoverInterrupted(); err != nil {
		_ = db.Close()
		return nil, ioError("open", "-", "-", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Fingerprint is the content hash used to detect unchanged payloads
// without re-parsing them.
func Fingerprint(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Get returns the unit metadata, or nil when the key has never been
// written.
func (s *Store) Get(ctx context.Context, lineup, date string) (*Unit, error) {
	if err := validateKey(lineup, date); err != nil {
		return nil, ioError("get", lineup, date, err)
	}
	var u *Unit
	err := s.db.View(func(txn *badger.Txn) error {
		got, err := readUnit(txn, lineup, date)
		if err != nil {
			return err
		}
		u = got
		return nil
	})
	if err != nil {
		return nil, ioError("get", lineup, date, err)
	}
	return u, nil
}

// IsFresh reports whether the stored payload is recent enough to skip a
// refetch. maxAge is caller-supplied per call: near-term days use tighter
// bounds than far-future ones.
func (s *Store) IsFresh(ctx context.Context, lineup, date string, maxAge time.Duration) (bool, error) {
	u, err := s.Get(ctx, lineup, date)
	if err != nil {
		return false, err
	}
	if u == nil || !u.State.AtLeast(StateFetched) {
		return false, nil
	}
	return s.now().Sub(u.FetchedAt) <= maxAge, nil
}

// Put commits a fetched payload. An identical fingerprint short-circuits
// to PutUnchanged, refreshing the retrieval timestamp and restoring the
// unit's pre-fetch progress so downstream stages stay skipped. Otherwise
// the previous generation is superseded and the unit drops back to
// Fetched for re-normalization.
func (s *Store) Put(ctx context.Context, lineup, date string, payload []byte, fetchedAt time.Time) (PutResult, *Unit, error) {
	if err := validateKey(lineup, date); err != nil {
		return PutNew, nil, ioError("put", lineup, date, err)
	}
	l := s.unitLock(lineup, date)
	l.Lock()
	defer l.Unlock()

	cur, err := s.Get(ctx, lineup, date)
	if err != nil {
		return PutNew, nil, err
	}

	fp := Fingerprint(payload)
	if cur != nil && cur.Fingerprint == fp {
		upd := *cur
		upd.FetchedAt = fetchedAt
		upd.UpdatedAt = s.now()
		if upd.State == StateFetching {
			restored := upd.PrevState
			if !restored.AtLeast(StateFetched) {
				restored = StateFetched
			}
			upd.State = restored
			upd.PrevState = ""
		}
		if err := s.db.Update(func(txn *badger.Txn) error { return writeUnit(txn, &upd) }); err != nil {
			return PutNew, nil, ioError("put", lineup, date, err)
		}
		s.logPut(lineup, date, PutUnchanged, len(payload))
		return PutUnchanged, &upd, nil
	}

	res := PutNew
	upd := &Unit{
		Lineup:      lineup,
		Date:        date,
		State:       StateFetched,
		Revision:    1,
		Fingerprint: fp,
		FetchedAt:   fetchedAt,
		PayloadSize: int64(len(payload)),
		UpdatedAt:   s.now(),
	}
	if cur != nil {
		res = PutChanged
		upd.Revision = cur.Revision + 1
		upd.Superseded = append(append([]Generation{}, cur.Superseded...), Generation{
			Revision:    cur.Revision,
			Fingerprint: cur.Fingerprint,
			FetchedAt:   cur.FetchedAt,
		})
	}

	if err := s.writePayload(lineup, date, upd.Revision, payload); err != nil {
		return res, nil, ioError("put", lineup, date, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error { return writeUnit(txn, upd) }); err != nil {
		return res, nil, ioError("put", lineup, date, err)
	}
	s.logPut(lineup, date, res, len(payload))
	return res, upd, nil
}

// Payload returns the raw grid payload of the unit's current revision.
func (s *Store) Payload(ctx context.Context, lineup, date string) ([]byte, error) {
	u, err := s.Get(ctx, lineup, date)
	if err != nil {
		return nil, err
	}
	if u == nil || u.Revision == 0 {
		return nil, fmt.Errorf("cachestore: payload %s/%s: %w", lineup, date, ErrNotFound)
	}
	f, err := os.Open(s.payloadPath(lineup, date, u.Revision))
	if err != nil {
		return nil, ioError("payload", lineup, date, err)
	}
	defer func() { _ = f.Close() }()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, ioError("payload", lineup, date, err)
	}
	defer func() { _ = zr.Close() }()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, ioError("payload", lineup, date, err)
	}
	return data, nil
}

// PutRecords stores the normalized records for a fetched unit and
// advances it to Normalized.
func (s *Store) PutRecords(ctx context.Context, rec *guide.DayRecords) error {
	lineup, date := rec.Lineup, rec.Date
	if err := validateKey(lineup, date); err != nil {
		return ioError("put_records", lineup, date, err)
	}
	l := s.unitLock(lineup, date)
	l.Lock()
	defer l.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		u, err := readUnit(txn, lineup, date)
		if err != nil {
			return err
		}
		if u == nil {
			return ErrNotFound
		}
		if !u.State.AtLeast(StateFetched) {
			return fmt.Errorf("%w: records for unit in state %s", ErrBadTransition, u.State)
		}
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := txn.Set(recKey(lineup, date), buf); err != nil {
			return err
		}
		if !u.State.AtLeast(StateNormalized) {
			u.State = StateNormalized
			u.PrevState = ""
		}
		u.UpdatedAt = s.now()
		return writeUnit(txn, u)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBadTransition) {
			return fmt.Errorf("cachestore: put_records %s/%s: %w", lineup, date, err)
		}
		return ioError("put_records", lineup, date, err)
	}
	return nil
}

// Records returns the stored normalized records, or nil when the unit has
// none yet.
func (s *Store) Records(ctx context.Context, lineup, date string) (*guide.DayRecords, error) {
	if err := validateKey(lineup, date); err != nil {
		return nil, ioError("records", lineup, date, err)
	}
	var rec *guide.DayRecords
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recKey(lineup, date))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var r guide.DayRecords
			if err := json.Unmarshal(val, &r); err != nil {
				return err
			}
			rec = &r
			return nil
		})
	})
	if err != nil {
		return nil, ioError("records", lineup, date, err)
	}
	return rec, nil
}

// Transition moves a unit to the given state, creating the unit when a
// fresh key enters Fetching. Same-state moves are no-ops; anything the
// lifecycle does not allow fails with ErrBadTransition.
func (s *Store) Transition(ctx context.Context, lineup, date string, to UnitState) (*Unit, error) {
	if err := validateKey(lineup, date); err != nil {
		return nil, ioError("transition", lineup, date, err)
	}
	l := s.unitLock(lineup, date)
	l.Lock()
	defer l.Unlock()

	var out *Unit
	err := s.db.Update(func(txn *badger.Txn) error {
		u, err := readUnit(txn, lineup, date)
		if err != nil {
			return err
		}
		if u == nil {
			if to != StateFetching {
				return fmt.Errorf("%w: %s from empty unit", ErrBadTransition, to)
			}
			u = &Unit{Lineup: lineup, Date: date, State: StateStale}
		}
		from := u.State
		if !canTransition(from, to) {
			return fmt.Errorf("%w: %s to %s", ErrBadTransition, from, to)
		}
		if to == StateFetching && from != StateFetching {
			u.PrevState = from
		}
		if from == StateFetching && to != StateFetching {
			u.PrevState = ""
		}
		u.State = to
		u.UpdatedAt = s.now()
		out = u
		return writeUnit(txn, u)
	})
	if err != nil {
		if errors.Is(err, ErrBadTransition) {
			return nil, fmt.Errorf("cachestore: transition %s/%s: %w", lineup, date, err)
		}
		return nil, ioError("transition", lineup, date, err)
	}
	s.logger.Debug().
		Str("event", "cache.state").
		Str(log.FieldLineup, lineup).
		Str(log.FieldDay, date).
		Str(log.FieldNewState, string(to)).
		Msg("unit state changed")
	return out, nil
}

// Scan visits every unit in key order. The callback must not write back
// into the store.
func (s *Store) Scan(ctx context.Context, fn func(*Unit) error) error {
	prefix := []byte(unitPrefix)
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var u Unit
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &u) }); err != nil {
				continue
			}
			if err := fn(&u); err != nil {
				return err
			}
		}
		return nil
	})
}

// PurgeOlderThan removes units dated strictly before cutoff: metadata,
// records, and every payload generation. Dates use the compact YYYYMMDD
// form, so lexical order is date order.
func (s *Store) PurgeOlderThan(ctx context.Context, cutoff string) (int, error) {
	var victims []*Unit
	if err := s.Scan(ctx, func(u *Unit) error {
		if u.Date < cutoff {
			c := *u
			victims = append(victims, &c)
		}
		return nil
	}); err != nil {
		return 0, err
	}

	purged := 0
	for _, u := range victims {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		l := s.unitLock(u.Lineup, u.Date)
		l.Lock()
		err := s.db.Update(func(txn *badger.Txn) error {
			if err := txn.Delete(unitKey(u.Lineup, u.Date)); err != nil {
				return err
			}
			return txn.Delete(recKey(u.Lineup, u.Date))
		})
		if err == nil {
			for rev := 1; rev <= u.Revision; rev++ {
				_ = os.Remove(s.payloadPath(u.Lineup, u.Date, rev))
			}
			purged++
		}
		l.Unlock()
		if err != nil {
			return purged, ioError("purge", u.Lineup, u.Date, err)
		}
	}
	if purged > 0 {
		s.logger.Info().Str("event", "cache.purge").Int("units", purged).Str("cutoff", cutoff).Msg("expired units purged")
	}
	if n := s.sweepOrphanPayloads(cutoff); n > 0 {
		s.logger.Info().Str("event", "cache.purge.orphans").Int("files", n).Msg("orphaned payload files removed")
	}
	return purged, nil
}

// sweepOrphanPayloads removes payload files dated before cutoff whose unit
// metadata is already gone, e.g. after a crash between payload write and
// metadata commit. Unparseable names are left alone.
func (s *Store) sweepOrphanPayloads(cutoff string) int {
	removed := 0
	root := filepath.Join(s.dir, "payloads")
	lineups, err := os.ReadDir(root)
	if err != nil {
		return 0
	}
	for _, lu := range lineups {
		if !lu.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(root, lu.Name()))
		if err != nil {
			continue
		}
		for _, f := range files {
			date, _, ok := parsePayloadName(f.Name())
			if !ok || date >= cutoff {
				continue
			}
			if os.Remove(filepath.Join(root, lu.Name(), f.Name())) == nil {
				removed++
			}
		}
	}
	return removed
}

// parsePayloadName splits "<date>.r<rev>.json.gz" into its parts.
func parsePayloadName(name string) (date string, rev int, ok bool) {
	base, found := strings.CutSuffix(name, ".json.gz")
	if !found {
		return "", 0, false
	}
	date, revPart, found := strings.Cut(base, ".r")
	if !found || len(date) != len("20060102") {
		return "", 0, false
	}
	rev, err := strconv.Atoi(revPart)
	if err != nil {
		return "", 0, false
	}
	return date, rev, true
}

func (s *Store) recoverInterrupted() error {
	var stuck []Unit
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(unitPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var u Unit
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &u) }); err != nil {
				continue
			}
			if u.State == StateFetching {
				stuck = append(stuck, u)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(stuck) == 0 {
		return nil
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for i := range stuck {
			stuck[i].State = StateStale
			stuck[i].PrevState = ""
			stuck[i].UpdatedAt = s.now()
			if err := writeUnit(txn, &stuck[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn().Str("event", "cache.recover").Int("units", len(stuck)).Msg("interrupted fetches reset to stale")
	return nil
}

func (s *Store) writePayload(lineup, date string, rev int, payload []byte) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(payload); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	dir := filepath.Join(s.dir, "payloads", lineup)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return renameio.WriteFile(s.payloadPath(lineup, date, rev), buf.Bytes(), 0o644)
}

func (s *Store) payloadPath(lineup, date string, rev int) string {
	return filepath.Join(s.dir, "payloads", lineup, fmt.Sprintf("%s.r%d.json.gz", date, rev))
}

func (s *Store) unitLock(lineup, date string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := lineup + ":" + date
	l, ok := s.locks[k]
	if !ok {
		l = &sync.Mutex{}
		s.locks[k] = l
	}
	return l
}

func (s *Store) logPut(lineup, date string, res PutResult, size int) {
	s.logger.Debug().
		Str("event", "cache.put").
		Str(log.FieldLineup, lineup).
		Str(log.FieldDay, date).
		Str("result", res.String()).
		Int("bytes", size).
		Msg("payload stored")
}

func unitKey(lineup, date string) []byte { return []byte(unitPrefix + lineup + ":" + date) }
func recKey(lineup, date string) []byte  { return []byte(recPrefix + lineup + ":" + date) }

func readUnit(txn *badger.Txn, lineup, date string) (*Unit, error) {
	item, err := txn.Get(unitKey(lineup, date))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var u Unit
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &u) }); err != nil {
		return nil, err
	}
	return &u, nil
}

func writeUnit(txn *badger.Txn, u *Unit) error {
	buf, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return txn.Set(unitKey(u.Lineup, u.Date), buf)
}

// Path components come straight from configuration, so reject anything
// that could escape the payload directory or collide with key separators.
func validateKey(lineup, date string) error {
	for _, part := range []string{lineup, date} {
		if part == "" || strings.ContainsAny(part, `/\:`) || strings.Contains(part, "..") {
			return fmt.Errorf("invalid cache key component %q", part)
		}
	}
	return nil
}
