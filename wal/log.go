package wal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Log is the write-ahead log. In file-backed mode
// it durably persists records to rotating segment files named by their
// starting LSN, so `ls` already shows them oldest-first. In
// in-memory mode (the InMemory engine backing) it keeps
// records only for the life of the process and flushing is a no-op, since
// there is nothing to recover.
type Log struct {
	mu sync.Mutex

	dir         string // "" for in-memory mode
	segmentMax  int64
	segments    []*segmentFile
	cur         *segmentFile
	curStartLSN LSN

	nextLSN    uint64
	flushedLSN uint64

	memRecords []Record // in-memory mode only
}

type segmentFile struct {
	startLSN LSN
	path     string
	f        *os.File
	size     int64
}

func segmentName(start LSN) string {
	return fmt.Sprintf("%020d.wal", uint64(start))
}

// OpenFile opens (or creates) a durable, file-backed log rooted at dir.
// Existing segments are discovered so Replay can see records from previous
// runs; a fresh segment is opened for new appends.
func OpenFile(dir string, segmentMax int64) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	l := &Log{dir: dir, segmentMax: segmentMax}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".wal" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var maxLSN LSN
	for _, name := range names {
		var start uint64
		fmt.Sscanf(name, "%020d.wal", &start)
		sf := &segmentFile{startLSN: LSN(start), path: filepath.Join(dir, name)}
		if fi, err := os.Stat(sf.path); err == nil {
			sf.size = fi.Size()
		}
		l.segments = append(l.segments, sf)

		err := l.scanSegmentMaxLSN(sf, &maxLSN)
		if err != nil {
			return nil, fmt.Errorf("wal: opening segment %s: %w", sf.path, err)
		}
	}
	l.nextLSN = uint64(maxLSN) + 1
	l.flushedLSN = uint64(maxLSN)

	if err := l.openNewSegment(maxLSN + 1); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) scanSegmentMaxLSN(sf *segmentFile, maxLSN *LSN) error {
	return readSegment(sf.path, func(r Record) error {
		if r.LSN > *maxLSN {
			*maxLSN = r.LSN
		}
		return nil
	})
}

func (l *Log) openNewSegment(start LSN) error {
	path := filepath.Join(l.dir, segmentName(start))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	sf := &segmentFile{startLSN: start, path: path, f: f}
	l.segments = append(l.segments, sf)
	l.cur = sf
	l.curStartLSN = start
	return nil
}

// OpenMemory opens an in-memory-only log for the InMemory engine backing.
func OpenMemory() *Log {
	return &Log{nextLSN: 1}
}

// Append assigns the next LSN to rec and buffers it for the current
// segment (or the in-memory slice). It is not yet durable; call FlushUntil
// to force it out.
func (l *Log) Append(rec Record) (LSN, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lsn := LSN(atomic.AddUint64(&l.nextLSN, 1) - 1)
	rec.LSN = lsn

	if l.dir == "" {
		l.memRecords = append(l.memRecords, rec)
		l.flushedLSN = uint64(lsn)
		return lsn, nil
	}

	buf := rec.Encode()
	if _, err := l.cur.f.Write(buf); err != nil {
		return 0, err
	}
	l.cur.size += int64(len(buf))
	return lsn, nil
}

// AppendControl appends a control record (Begin/Commit/Abort) with no
// payload, for the transaction manager.
func (l *Log) AppendControl(txn uint64, kind string) (uint64, error) {
	var k Kind
	switch kind {
	case "Begin":
		k = KindBegin
	case "Commit":
		k = KindCommit
	case "Abort":
		k = KindAbort
	default:
		return 0, fmt.Errorf("wal: unknown control kind %q", kind)
	}
	lsn, err := l.Append(Record{TxnID: txn, Kind: k})
	return uint64(lsn), err
}

// CurrentLSN returns the most recently assigned LSN, used as a txn's
// snapshot point.
func (l *Log) CurrentLSN() uint64 {
	return atomic.LoadUint64(&l.nextLSN) - 1
}

// FlushUntil forces the log durable at least through lsn (a no-op in
// in-memory mode, since nothing there needs to survive a crash).
func (l *Log) FlushUntil(lsn uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dir == "" {
		return nil
	}
	if uint64(l.flushedLSN) >= lsn {
		return nil
	}
	if err := l.cur.f.Sync(); err != nil {
		return err
	}
	l.flushedLSN = lsn
	return l.rotateIfNeededLocked()
}

// RotateIfNeeded opens a new segment if the current one has grown past the
// configured threshold.
func (l *Log) RotateIfNeeded() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rotateIfNeededLocked()
}

func (l *Log) rotateIfNeededLocked() error {
	if l.dir == "" || l.segmentMax <= 0 || l.cur.size < l.segmentMax {
		return nil
	}
	log.WithField("segment", l.cur.path).Info("wal: rotating segment")
	return l.openNewSegment(LSN(l.nextLSN))
}

// Checkpoint retires segments that can no longer affect recovery: every
// segment strictly older than the oldest still-active transaction's
// earliest record can be discarded once a Checkpoint record names that
// boundary. Kinesis keeps it simple and conservative: segments are
// retained until none of the currently active LSNs (lowLSN) falls within
// them.
func (l *Log) Checkpoint(lowLSN LSN) (LSN, error) {
	lsn, err := l.Append(Record{Kind: KindCheckpoint, NewData: encodeLSN(lowLSN)})
	if err != nil {
		return 0, err
	}
	if err := l.FlushUntil(uint64(lsn)); err != nil {
		return 0, err
	}
	l.reclaimSegments(lowLSN)
	return lsn, nil
}

func encodeLSN(lsn LSN) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(lsn)
		lsn >>= 8
	}
	return b
}

func (l *Log) reclaimSegments(lowLSN LSN) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.dir == "" {
		return
	}
	var kept []*segmentFile
	for i, sf := range l.segments {
		if sf == l.cur {
			kept = append(kept, sf)
			continue
		}
		// The next segment's start bounds this one's records from above.
		if i+1 >= len(l.segments) || l.segments[i+1].startLSN > lowLSN {
			kept = append(kept, sf)
			continue
		}
		// Every record in this segment predates the checkpoint's low-water
		// mark; no active or future-recovered transaction needs it.
		os.Remove(sf.path)
	}
	l.segments = kept
}

// Replay iterates every record across all segments (file mode) or the
// in-memory buffer, in LSN order, calling visit for each. It stops at the
// first error visit returns.
func (l *Log) Replay(visit func(Record) error) error {
	l.mu.Lock()
	if l.dir == "" {
		records := append([]Record(nil), l.memRecords...)
		l.mu.Unlock()
		for _, r := range records {
			if err := visit(r); err != nil {
				return err
			}
		}
		return nil
	}
	segments := append([]*segmentFile(nil), l.segments...)
	l.mu.Unlock()

	for _, sf := range segments {
		if err := readSegment(sf.path, visit); err != nil {
			return err
		}
	}
	return nil
}

// readSegment scans one segment file frame by frame. A frame's length
// prefix or body cut short partway through — the signature of a crash
// mid-append — ends replay cleanly at that point, since nothing durable
// was lost: the write never completed. A frame that reads in full but
// fails Decode's checksum is a different thing entirely: a complete entry
// whose bytes were corrupted after the fact, which readSegment treats as
// fatal and propagates rather than silently dropping.
func readSegment(path string, visit func(Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
		n := int(lenBuf[0])<<24 | int(lenBuf[1])<<16 | int(lenBuf[2])<<8 | int(lenBuf[3])
		body := make([]byte, n)
		if _, err := io.ReadFull(f, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break // the length landed but the body didn't: a torn trailing write
			}
			return err
		}
		rec, err := Decode(body)
		if err != nil {
			return fmt.Errorf("wal: segment %s: %w", path, err)
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close releases file handles held by a file-backed log.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sf := range l.segments {
		if sf.f != nil {
			sf.f.Close()
		}
	}
	return nil
}
