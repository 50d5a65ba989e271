// Package fasta contains a minimal reader and writer for FASTA files.
// Briefly, FASTA files consist of a number of named sequences that may be
// interrupted by newlines.  For example:
//
// >chr7
// ACGTAC
// GAGGAC
// GCG
// >chr8
// ACGT
//
// Note: Sequence names are defined to be the stretch of characters
// excluding spaces immediately after '>'.  Any text appearing after a
// space is ignored.  For example, '>chr1 A viral sequence' becomes
// 'chr1'.
package fasta

import (
	"bufio"
	"io"

	"github.com/pkg/errors"
)

const (
	scanBufSize = 1024 * 1024 * 300 // 300 MB
)

// Seq is one named sequence, with newlines removed.
type Seq struct {
	Name  string
	Bases []byte
}

// Read parses all sequences from r, in order of appearance.  Blank lines
// are skipped.  Base lines before the first '>' header make the file
// malformed.
func Read(r io.Reader) ([]Seq, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(nil, scanBufSize)
	var seqs []Seq
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if line[0] == '>' { // Start a new sequence.
			name := string(line[1:])
			for i := 1; i < len(line); i++ {
				if line[i] == ' ' {
					name = string(line[1:i])
					break
				}
			}
			if name == "" {
				return nil, errors.Errorf("malformed FASTA file: empty sequence name")
			}
			seqs = append(seqs, Seq{Name: name})
		} else {
			if len(seqs) == 0 {
				return nil, errors.Errorf("malformed FASTA file: bases before first header")
			}
			seqs[len(seqs)-1].Bases = append(seqs[len(seqs)-1].Bases, line...)
		}
	}
	if scanner.Err() != nil {
		return nil, errors.Wrap(scanner.Err(), "couldn't read FASTA data")
	}
	return seqs, nil
}

// Write writes seqs to w in FASTA format, wrapping base lines at
// lineWidth columns.  lineWidth <= 0 puts each sequence on a single line.
func Write(w io.Writer, seqs []Seq, lineWidth int) error {
	bw := bufio.NewWriter(w)
	for _, seq := range seqs {
		if _, err := bw.WriteString(">" + seq.Name + "\n"); err != nil {
			return errors.Wrapf(err, "write %s header", seq.Name)
		}
		bases := seq.Bases
		for len(bases) > 0 {
			n := len(bases)
			if lineWidth > 0 && n > lineWidth {
				n = lineWidth
			}
			if _, err := bw.Write(bases[:n]); err != nil {
				return errors.Wrapf(err, "write %s bases", seq.Name)
			}
			if err := bw.WriteByte('\n'); err != nil {
				return errors.Wrapf(err, "write %s bases", seq.Name)
			}
			bases = bases[n:]
		}
	}
	return bw.Flush()
}
