// Package snapshot archives full room state to disk: a JSON header line for
// quick inspection followed by a gob body, all zstd-compressed.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"spheroid.gg/internal/sim/room"
)

type Header struct {
	Version int    `json:"version"`
	RoomID  string `json:"room_id"`
	Tick    uint64 `json:"tick"`
}

// SnapshotV1 captures everything needed to resume an authority: the room
// parameters (so terrain regenerates identically) and the full runtime
// state, hidden fields included, so a resumed room reproduces the recorded
// tick digests.
type SnapshotV1 struct {
	Header Header `json:"header"`

	Seed       int64   `json:"seed"`
	TickMs     int     `json:"tick_ms"`
	BaseRadius float64 `json:"base_radius"`
	MaxPlayers int     `json:"max_players"`

	Digest string `json:"digest"`

	State room.StateExport `json:"state"`
}

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	defer enc.Close()

	bw := bufio.NewWriterSize(enc, 256*1024)
	defer bw.Flush()

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}

	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	return nil
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// Skip the header line; the gob body carries the header too.
	_, _ = br.ReadBytes('\n')

	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// Recorder is notified after each archive lands on disk; the index database
// implements it.
type Recorder interface {
	RecordSnapshot(path string, snap SnapshotV1)
}

// Archiver receives periodic room archives and writes one file per tick
// under <baseDir>/<roomID>/. It satisfies the room's archive sink interface.
type Archiver struct {
	baseDir string
	params  Params
	rec     Recorder
}

// Params are the per-room constants stamped into every archive.
type Params struct {
	Seed       int64
	TickMs     int
	BaseRadius float64
	MaxPlayers int
}

func NewArchiver(baseDir string, params Params, rec Recorder) *Archiver {
	return &Archiver{baseDir: baseDir, params: params, rec: rec}
}

func (a *Archiver) Archive(roomID string, tick uint64, digest string, state room.StateExport) {
	snap := SnapshotV1{
		Header:     Header{Version: 1, RoomID: roomID, Tick: tick},
		Seed:       a.params.Seed,
		TickMs:     a.params.TickMs,
		BaseRadius: a.params.BaseRadius,
		MaxPlayers: a.params.MaxPlayers,
		Digest:     digest,
		State:      state,
	}
	path := filepath.Join(a.baseDir, roomID, fmt.Sprintf("tick-%012d.snap.zst", tick))
	if err := WriteSnapshot(path, snap); err != nil {
		// Archiving is best effort; the tick log remains authoritative.
		return
	}
	if a.rec != nil {
		a.rec.RecordSnapshot(path, snap)
	}
}
