package wal

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/occkv/occkv/kv/tuple"
	"github.com/occkv/occkv/kv/util"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("wal: log closed")

type Options struct {
	// Sync fsyncs the file after every commit or abort record.
	Sync bool
	// Compress stores write payloads lz4-compressed when that makes them smaller.
	Compress bool
	// Reset removes an existing log at the path instead of appending to it.
	Reset bool
}

// FileLog is an append-only LogService backed by one file. Begin and Write records are buffered;
// Finish flushes them together with the outcome record. Log positions are record sequence numbers
// and continue across reopenings of the same file.
type FileLog struct {
	mu     sync.Mutex
	path   string
	opts   Options
	f      *os.File
	w      *bufio.Writer
	lsn    int64
	closed bool
}

// Open opens path for appending, creating it and its directory if needed. An existing file is
// scanned for its last log position; a torn trailing record is truncated away.
func Open(path string, opts Options) (*FileLog, error) {
	if err := util.EnsureDir(filepath.Dir(path)); err != nil {
		return nil, errors.Annotatef(err, "create wal dir for %s", path)
	}
	if opts.Reset {
		removed, err := util.RemoveIfExists(path)
		if err != nil {
			return nil, errors.Annotatef(err, "reset wal %s", path)
		}
		if removed {
			log.Info("previous wal removed", zap.String("path", path))
		}
	}
	created := !util.FileExists(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Trace(err)
	}
	lsn, end, err := scan(f)
	if err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "open wal %s", path)
	}
	if err := f.Truncate(end); err != nil {
		f.Close()
		return nil, errors.Trace(err)
	}
	if _, err := f.Seek(end, io.SeekStart); err != nil {
		f.Close()
		return nil, errors.Trace(err)
	}
	log.Info("wal opened", zap.String("path", path), zap.Bool("created", created),
		zap.Int64("lsn", lsn), zap.Int64("size", end))
	return &FileLog{path: path, opts: opts, f: f, w: bufio.NewWriter(f), lsn: lsn}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// scan returns the last log position in f and the offset just past the last whole record.
func scan(f *os.File) (lsn int64, end int64, err error) {
	cr := &countingReader{r: bufio.NewReader(f)}
	rd := NewReader(cr)
	for {
		rec, err := rd.Next()
		switch {
		case err == nil:
			lsn, end = rec.LSN, cr.n
		case err == io.EOF:
			return lsn, end, nil
		case err == io.ErrUnexpectedEOF:
			log.Warn("truncating torn wal tail", zap.Int64("offset", end))
			return lsn, end, nil
		default:
			return 0, 0, err
		}
	}
}

func (l *FileLog) append(r Record, flush bool) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrClosed
	}
	r.LSN = l.lsn + 1
	if _, err := l.w.Write(encodeRecord(&r, l.opts.Compress)); err != nil {
		return 0, errors.Trace(err)
	}
	if flush {
		if err := l.w.Flush(); err != nil {
			return 0, errors.Trace(err)
		}
		if l.opts.Sync {
			if err := l.f.Sync(); err != nil {
				return 0, errors.Trace(err)
			}
		}
	}
	l.lsn = r.LSN
	return r.LSN, nil
}

func (l *FileLog) Begin(txnID int64) (int64, error) {
	return l.append(Record{Kind: KindBegin, TxnID: txnID}, false)
}

func (l *FileLog) Write(txnID int64, key tuple.PrimaryKey, descs []tuple.TupleDesc, value []byte) (int64, error) {
	if err := checkWrite(descs, value); err != nil {
		return 0, err
	}
	return l.append(Record{Kind: KindWrite, TxnID: txnID, Key: key, Descs: descs, Value: value}, false)
}

func (l *FileLog) Finish(txnID int64, outcome Outcome) (int64, error) {
	kind, err := finishKind(outcome)
	if err != nil {
		return 0, err
	}
	return l.append(Record{Kind: kind, TxnID: txnID}, true)
}

// Close flushes buffered records and closes the file.
func (l *FileLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.w.Flush(); err != nil {
		l.f.Close()
		return errors.Trace(err)
	}
	if l.opts.Sync {
		if err := l.f.Sync(); err != nil {
			l.f.Close()
			return errors.Trace(err)
		}
	}
	return errors.Trace(l.f.Close())
}

// ReadRecords calls fn for each whole record of the log at path until fn returns false. A torn
// trailing record ends the iteration without error.
func ReadRecords(path string, fn func(Record) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer f.Close()
	rd := NewReader(bufio.NewReader(f))
	for {
		rec, err := rd.Next()
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return err
		}
		if !fn(rec) {
			return nil
		}
	}
}
