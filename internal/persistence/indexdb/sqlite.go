// Package indexdb keeps a queryable sqlite read model next to the archive
// files: which rooms ran, where their snapshots landed, and which peers
// reported desyncs. Writes go through a single goroutine so the simulation
// never blocks on the database.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"spheroid.gg/internal/persistence/snapshot"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

type reqKind int

const (
	reqRoom reqKind = iota + 1
	reqSnapshot
	reqDesync
	reqFlush
)

type req struct {
	kind reqKind

	room     roomRow
	snapshot snapshotRow
	desync   desyncRow
	done     chan struct{}
}

type roomRow struct {
	ID        string
	Seed      int64
	CreatedAt string
}

type snapshotRow struct {
	RoomID string
	Tick   uint64
	Digest string
	Path   string
	Units  int
}

type desyncRow struct {
	RoomID          string
	Tick            uint64
	Slot            int
	PeerDigest      string
	AuthorityDigest string
	RecordedAt      string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS rooms (
			id TEXT PRIMARY KEY,
			seed INTEGER NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			room_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			digest TEXT NOT NULL,
			path TEXT NOT NULL,
			units INTEGER NOT NULL,
			PRIMARY KEY (room_id, tick)
		);`,
		`CREATE TABLE IF NOT EXISTS desyncs (
			room_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			slot INTEGER NOT NULL,
			peer_digest TEXT NOT NULL,
			authority_digest TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_desyncs_room_tick ON desyncs(room_id, tick);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// RecordRoom registers a created room.
func (s *SQLiteIndex) RecordRoom(id string, seed int64) {
	if s == nil || s.closed.Load() {
		return
	}
	r := roomRow{ID: id, Seed: seed, CreatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	s.enqueue(req{kind: reqRoom, room: r})
}

// RecordSnapshot indexes an archived snapshot file.
func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		RoomID: snap.Header.RoomID,
		Tick:   snap.Header.Tick,
		Digest: snap.Digest,
		Path:   path,
		Units:  len(snap.State.Units),
	}
	s.enqueue(req{kind: reqSnapshot, snapshot: r})
}

// RecordDesync satisfies the room's desync recorder interface.
func (s *SQLiteIndex) RecordDesync(roomID string, tick uint64, slot int, peerDigest, authorityDigest string) {
	if s == nil || s.closed.Load() {
		return
	}
	r := desyncRow{
		RoomID:          roomID,
		Tick:            tick,
		Slot:            slot,
		PeerDigest:      peerDigest,
		AuthorityDigest: authorityDigest,
		RecordedAt:      time.Now().UTC().Format(time.RFC3339Nano),
	}
	s.enqueue(req{kind: reqDesync, desync: r})
}

func (s *SQLiteIndex) enqueue(r req) {
	select {
	case s.ch <- r:
	default:
		// Drop if the indexer falls behind; archives remain the source of
		// truth.
	}
}

// Flush blocks until every previously enqueued write has been committed.
// Tests use it; the server just closes on shutdown.
func (s *SQLiteIndex) Flush() {
	if s == nil || s.closed.Load() {
		return
	}
	done := make(chan struct{})
	s.ch <- req{kind: reqFlush, done: done}
	<-done
}

// LatestSnapshot returns the newest indexed snapshot of a room.
func (s *SQLiteIndex) LatestSnapshot(roomID string) (path string, tick uint64, err error) {
	row := s.db.QueryRow(
		`SELECT path, tick FROM snapshots WHERE room_id = ? ORDER BY tick DESC LIMIT 1`, roomID)
	if err := row.Scan(&path, &tick); err != nil {
		return "", 0, err
	}
	return path, tick, nil
}

// DesyncCount reports how many desyncs a room has accumulated.
func (s *SQLiteIndex) DesyncCount(roomID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM desyncs WHERE room_id = ?`, roomID).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRoom, _ := s.db.Prepare(`INSERT OR REPLACE INTO rooms(id,seed,created_at) VALUES(?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(room_id,tick,digest,path,units) VALUES(?,?,?,?,?)`)
	insertDesync, _ := s.db.Prepare(`INSERT INTO desyncs(room_id,tick,slot,peer_digest,authority_digest,recorded_at) VALUES(?,?,?,?,?,?)`)
	defer func() {
		if insertRoom != nil {
			_ = insertRoom.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
		if insertDesync != nil {
			_ = insertDesync.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		lastCommit  = time.Now()
		commitEvery = 256
		commitWait  = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqRoom:
				_, _ = tx.Stmt(insertRoom).Exec(r.room.ID, r.room.Seed, r.room.CreatedAt)
			case reqSnapshot:
				_, _ = tx.Stmt(insertSnapshot).Exec(r.snapshot.RoomID, r.snapshot.Tick, r.snapshot.Digest, r.snapshot.Path, r.snapshot.Units)
			case reqDesync:
				_, _ = tx.Stmt(insertDesync).Exec(r.desync.RoomID, r.desync.Tick, r.desync.Slot, r.desync.PeerDigest, r.desync.AuthorityDigest, r.desync.RecordedAt)
			case reqFlush:
				commit()
				close(r.done)
				continue
			}
			opCount++
			if opCount >= commitEvery {
				commit()
			}
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitWait {
				commit()
			}
		}
	}
}
