// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

// Package twobit packs DNA sequences into a 2-bit-per-base representation.
//
// Each base maps to a 2-bit code (A=0, C=1, G=2, T=3; any other byte is
// treated as 'A').  Codes are stored 16 bases per uint32, lowest bit
// positions first: the base at sequence position 16*i+k occupies bits
// [2k, 2k+1] of word i.  Unused high bits of the last word are zero.  For
// example, "GACT" packs to the single word 0b11010010 = 210.
//
// Packing is a pure function of its inputs: no allocation, no state
// retained across calls.  Each word depends only on its own 16 bases, so
// PackParallel can hand disjoint word ranges to separate goroutines with
// no synchronization beyond the final join.
package twobit

import (
	"runtime"

	"github.com/grailbio/base/traverse"
)

// BasesPerWord is the number of bases packed into one uint32.
const BasesPerWord = 16

// baseCode maps a sequence byte to its 2-bit code.  Bytes outside
// uppercase ACGT (lowercase bases, 'N', anything else) map to 0, making
// them indistinguishable from 'A' after packing.  Callers that care must
// normalize beforehand.
var baseCode [256]byte

func init() {
	baseCode['C'] = 1
	baseCode['G'] = 2
	baseCode['T'] = 3
}

// codeBase is the inverse of baseCode for the four valid codes.
var codeBase = [4]byte{'A', 'C', 'G', 'T'}

// NumWords returns the number of uint32 words needed to pack seqLen
// bases.
func NumWords(seqLen int) int {
	return (seqLen + BasesPerWord - 1) / BasesPerWord
}

// packWords packs the bases covered by dst words [wordStart, wordLimit).
// The shift state accumulates across the 16 bases of a word, so the inner
// loop must run in increasing position order; the outer loop has no such
// constraint.
func packWords(dst []uint32, seq []byte, wordStart, wordLimit int) {
	for i := wordStart; i < wordLimit; i++ {
		start := i * BasesPerWord
		end := start + BasesPerWord
		if end > len(seq) {
			end = len(seq)
		}
		var w uint32
		shift := uint(0)
		for j := start; j < end; j++ {
			w |= uint32(baseCode[seq[j]]) << shift
			shift += 2
		}
		dst[i] = w
	}
}

// Pack packs seq into dst, 16 bases per word.  It panics if
// len(dst) != NumWords(len(seq)).  Every element of dst is overwritten;
// seq is not modified.
func Pack(dst []uint32, seq []byte) {
	if len(dst) != NumWords(len(seq)) {
		panic("Pack() requires len(dst) == NumWords(len(seq)).")
	}
	packWords(dst, seq, 0, len(dst))
}

// PackParallel is Pack with the word range split across up to parallelism
// goroutines.  parallelism <= 0 means runtime.NumCPU().  Each job owns a
// contiguous, disjoint range of dst words, so the result never depends on
// scheduling order.  PackParallel blocks until all jobs finish.
//
// A single word (16 bases) is far too little work to dispatch on its own,
// so jobs take a slice of the word range rather than one word each.
func PackParallel(dst []uint32, seq []byte, parallelism int) {
	nWord := NumWords(len(seq))
	if len(dst) != nWord {
		panic("PackParallel() requires len(dst) == NumWords(len(seq)).")
	}
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}
	if parallelism > nWord {
		parallelism = nWord
	}
	if parallelism <= 1 {
		packWords(dst, seq, 0, nWord)
		return
	}
	_ = traverse.Each(parallelism, func(job int) error {
		packWords(dst, seq, (job*nWord)/parallelism, ((job+1)*nWord)/parallelism)
		return nil
	})
}

// Unpack expands packed words back into bases, inverting Pack.  It panics
// if len(src) != NumWords(len(dst)).  Bases that packed as code 0 come
// back as 'A' whether or not they started out that way.
func Unpack(dst []byte, src []uint32) {
	if len(src) != NumWords(len(dst)) {
		panic("Unpack() requires len(src) == NumWords(len(dst)).")
	}
	for i := range src {
		w := src[i]
		start := i * BasesPerWord
		end := start + BasesPerWord
		if end > len(dst) {
			end = len(dst)
		}
		for j := start; j < end; j++ {
			dst[j] = codeBase[w&3]
			w >>= 2
		}
	}
}
