// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package twobitio reads and writes recordio files of 2-bit packed DNA
// sequences.  Each recordio record holds one named sequence: its name,
// base count, packed words (see package twobit), and a seahash checksum
// of all three.  Records are zstd-compressed by the recordio transformer,
// and a trailer summarizes the file.
package twobitio

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/gob"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/recordio"
	"github.com/grailbio/base/recordio/recordiozstd"
	"github.com/grailbio/base/unsafe"
	"github.com/grailbio/twobit"
	"github.com/pkg/errors"
)

const (
	// <fileVersionHeader, fileVersion> is stored in a recordio header.
	fileVersionHeader = "twobitversion"
	fileVersion       = "TWOBIT_V1"
)

// Record is one packed sequence.
type Record struct {
	// Name is the FASTA sequence name.
	Name string
	// SeqLen is the number of bases in the original sequence.
	SeqLen int
	// Words holds the packed bases; len(Words) == twobit.NumWords(SeqLen).
	Words []uint32
	// Sum is the seahash of Name, SeqLen, and Words.  Writer.Append fills
	// it in.
	Sum uint64
}

// Trailer summarizes the sequences in a file.  It is stored in the
// recordio trailer section as a gob.
type Trailer struct {
	NumSeqs  int
	NumBases int64
	NumWords int64
}

// Checksum returns the seahash of a record's name, length, and packed
// words.
func Checksum(name string, seqLen int, words []uint32) uint64 {
	h := seahash.New()
	h.Write(unsafe.StringToBytes(name))
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(seqLen))
	h.Write(b[:])
	for _, w := range words {
		binary.LittleEndian.PutUint32(b[:4], w)
		h.Write(b[:4])
	}
	return h.Sum64()
}

// Verify recomputes the record's checksum and reports a mismatch, which
// indicates corruption of the packed words (or a hand-built record with a
// stale Sum).
func (r *Record) Verify() error {
	if len(r.Words) != twobit.NumWords(r.SeqLen) {
		return errors.Errorf("%s: %d words packed for %d bases, want %d",
			r.Name, len(r.Words), r.SeqLen, twobit.NumWords(r.SeqLen))
	}
	if sum := Checksum(r.Name, r.SeqLen, r.Words); sum != r.Sum {
		return errors.Errorf("%s: checksum mismatch: %x != %x", r.Name, sum, r.Sum)
	}
	return nil
}

// Record wire format: sum (8 bytes) | seqLen (8) | nameLen (4) | name |
// words (4 bytes each, little-endian).  The word count is implied by
// seqLen.
func marshalRecord(scratch []byte, v interface{}) ([]byte, error) {
	rec := v.(*Record)
	// Compute length up-front so that, if we need to allocate, we only do
	// so once.
	bytesReq := 20 + len(rec.Name) + 4*len(rec.Words)
	t := scratch
	if len(t) < bytesReq {
		t = make([]byte, bytesReq)
	}
	t = t[:bytesReq]
	binary.LittleEndian.PutUint64(t[:8], rec.Sum)
	binary.LittleEndian.PutUint64(t[8:16], uint64(rec.SeqLen))
	binary.LittleEndian.PutUint32(t[16:20], uint32(len(rec.Name)))
	offset := 20 + copy(t[20:], rec.Name)
	for _, w := range rec.Words {
		binary.LittleEndian.PutUint32(t[offset:offset+4], w)
		offset += 4
	}
	return t, nil
}

func unmarshalRecord(in []byte) (interface{}, error) {
	if len(in) < 20 {
		return nil, errors.Errorf("corrupt record: %d bytes", len(in))
	}
	rec := &Record{
		Sum:    binary.LittleEndian.Uint64(in[:8]),
		SeqLen: int(binary.LittleEndian.Uint64(in[8:16])),
	}
	nameLen := int(binary.LittleEndian.Uint32(in[16:20]))
	nWord := twobit.NumWords(rec.SeqLen)
	if len(in) != 20+nameLen+4*nWord {
		return nil, errors.Errorf("corrupt record: %d bytes, want %d", len(in), 20+nameLen+4*nWord)
	}
	rec.Name = string(in[20 : 20+nameLen])
	rec.Words = make([]uint32, nWord)
	for i := range rec.Words {
		rec.Words[i] = binary.LittleEndian.Uint32(in[20+nameLen+4*i:])
	}
	return rec, nil
}

// Writer writes packed sequences to a recordio file.
type Writer struct {
	out     file.File
	w       recordio.Writer
	trailer Trailer
}

// NewWriter creates a recordio writer at path.  Existing contents of
// path, if any, are destroyed.
func NewWriter(ctx context.Context, path string) (*Writer, error) {
	recordiozstd.Init()
	out, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", path)
	}
	w := recordio.NewWriter(out.Writer(ctx), recordio.WriterOpts{
		Marshal:      marshalRecord,
		Transformers: []string{recordiozstd.Name},
	})
	w.AddHeader(fileVersionHeader, fileVersion)
	w.AddHeader(recordio.KeyTrailer, true)
	return &Writer{out: out, w: w}, nil
}

// Append adds one record.  It computes rec.Sum in place, so files always
// carry a checksum consistent with their contents.
func (w *Writer) Append(rec *Record) {
	rec.Sum = Checksum(rec.Name, rec.SeqLen, rec.Words)
	w.w.Append(rec)
	w.trailer.NumSeqs++
	w.trailer.NumBases += int64(rec.SeqLen)
	w.trailer.NumWords += int64(len(rec.Words))
}

// Close writes the trailer and closes the underlying file.  It must be
// called exactly once, after the last Append.
func (w *Writer) Close(ctx context.Context) (err error) {
	b := bytes.NewBuffer(nil)
	if err = gob.NewEncoder(b).Encode(w.trailer); err != nil {
		return err
	}
	w.w.SetTrailer(b.Bytes())
	if err = w.w.Finish(); err != nil {
		return err
	}
	return w.out.Close(ctx)
}

// Reader reads packed sequences written by Writer.
type Reader struct {
	in      file.File
	r       recordio.Scanner
	trailer Trailer
}

// NewReader opens the recordio file at path and validates its version
// header and trailer.
func NewReader(ctx context.Context, path string) (*Reader, error) {
	recordiozstd.Init()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	r := recordio.NewScanner(in.Reader(ctx), recordio.ScannerOpts{
		Unmarshal: unmarshalRecord,
	})
	versionFound := false
	for _, kv := range r.Header() {
		if kv.Key == fileVersionHeader {
			if kv.Value.(string) != fileVersion {
				_ = in.Close(ctx)
				return nil, errors.Errorf("%s: file version mismatch, got %v, expect %v",
					path, kv.Value, fileVersion)
			}
			versionFound = true
			break
		}
	}
	if !versionFound {
		_ = in.Close(ctx)
		return nil, errors.Errorf("%s: %s header not found", path, fileVersionHeader)
	}
	reader := &Reader{in: in, r: r}
	if err := gob.NewDecoder(bytes.NewReader(r.Trailer())).Decode(&reader.trailer); err != nil {
		_ = in.Close(ctx)
		return nil, errors.Wrapf(err, "%s: corrupt trailer", path)
	}
	return reader, nil
}

// Scan advances to the next record.  It returns false at the end of the
// file or on error; check Err afterwards.
func (r *Reader) Scan() bool { return r.r.Scan() }

// Get returns the record read by the last successful Scan.
func (r *Reader) Get() *Record { return r.r.Get().(*Record) }

// Err returns the first error encountered while scanning, if any.
func (r *Reader) Err() error { return r.r.Err() }

// Trailer returns the file summary.
func (r *Reader) Trailer() Trailer { return r.trailer }

// Close closes the underlying file.
func (r *Reader) Close(ctx context.Context) error {
	return r.in.Close(ctx)
}

// ReadAll reads every record from the file at path.
func ReadAll(ctx context.Context, path string) ([]*Record, Trailer, error) {
	r, err := NewReader(ctx, path)
	if err != nil {
		return nil, Trailer{}, err
	}
	var recs []*Record
	for r.Scan() {
		recs = append(recs, r.Get())
	}
	if err := r.Err(); err != nil {
		_ = r.Close(ctx)
		return nil, Trailer{}, err
	}
	return recs, r.Trailer(), r.Close(ctx)
}
