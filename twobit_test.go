// Copyright 2019 GRAIL, Inc.  All rights reserved.
// Use of this source code is governed by the Apache-2.0
// license that can be found in the LICENSE file.

package twobit_test

import (
	"bytes"
	"math/rand"
	"runtime"
	"testing"

	"github.com/grailbio/twobit"
)

// packSlow is a straightforward rendition of the packing contract, with
// branch dispatch instead of a lookup table.
func packSlow(dst []uint32, seq []byte) {
	for i := range dst {
		dst[i] = 0
	}
	for pos, c := range seq {
		var code uint32
		switch c {
		case 'A':
			code = 0
		case 'C':
			code = 1
		case 'G':
			code = 2
		case 'T':
			code = 3
		default:
			code = 0
		}
		dst[pos/16] |= code << (uint(pos%16) * 2)
	}
}

func randSeq(r *rand.Rand, n int) []byte {
	// Mostly ACGT, with enough junk bytes mixed in to exercise the
	// degenerate mapping.
	bases := []byte{'A', 'C', 'G', 'T', 'N', 'a', 'c', 0, 0xff}
	seq := make([]byte, n)
	for i := range seq {
		seq[i] = bases[r.Intn(len(bases))]
	}
	return seq
}

func TestPackWorkedExample(t *testing.T) {
	dst := make([]uint32, 1)
	twobit.Pack(dst, []byte("GACT"))
	if dst[0] != 210 {
		t.Fatalf("Pack(GACT) = %#08b, want 0b11010010", dst[0])
	}
}

func TestNumWords(t *testing.T) {
	for _, tc := range []struct {
		seqLen, want int
	}{
		{0, 0}, {1, 1}, {15, 1}, {16, 1}, {17, 2}, {32, 2}, {33, 3},
	} {
		if got := twobit.NumWords(tc.seqLen); got != tc.want {
			t.Errorf("NumWords(%d) = %d, want %d", tc.seqLen, got, tc.want)
		}
	}
}

func TestPackRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	maxSize := 700
	nIter := 200
	for iter := 0; iter < nIter; iter++ {
		seq := randSeq(r, r.Intn(maxSize))
		nWord := twobit.NumWords(len(seq))
		want := make([]uint32, nWord)
		packSlow(want, seq)
		got := make([]uint32, nWord)
		// Nonzero garbage verifies every word is overwritten.
		for i := range got {
			got[i] = 0xdeadbeef
		}
		twobit.Pack(got, seq)
		if !uint32sEqual(want, got) {
			t.Fatal("Mismatched Pack result.")
		}
		for _, parallelism := range []int{1, 2, 3, runtime.NumCPU(), nWord + 1, 0} {
			for i := range got {
				got[i] = 0xdeadbeef
			}
			twobit.PackParallel(got, seq, parallelism)
			if !uint32sEqual(want, got) {
				t.Fatalf("Mismatched PackParallel result (parallelism=%d).", parallelism)
			}
		}
	}
}

func TestPackTailPadding(t *testing.T) {
	for _, seqLen := range []int{1, 7, 15, 17, 31, 33} {
		seq := bytes.Repeat([]byte{'T'}, seqLen)
		dst := make([]uint32, twobit.NumWords(seqLen))
		for i := range dst {
			dst[i] = 0xffffffff
		}
		twobit.Pack(dst, seq)
		rem := seqLen % 16
		if rem == 0 {
			continue
		}
		if high := dst[len(dst)-1] >> (uint(rem) * 2); high != 0 {
			t.Fatalf("seqLen=%d: tail word has nonzero padding bits %#x", seqLen, high)
		}
	}
}

func TestPackDegenerateBases(t *testing.T) {
	dst1 := make([]uint32, 1)
	dst2 := make([]uint32, 1)
	twobit.Pack(dst1, []byte("ANCaT0G\xff"))
	twobit.Pack(dst2, []byte("AACATAGA"))
	if dst1[0] != dst2[0] {
		t.Fatalf("degenerate bases packed as %#x, want %#x", dst1[0], dst2[0])
	}
}

func TestPackBoundarySizes(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	for _, tc := range []struct {
		seqLen, nWord int
	}{
		{0, 0}, {1, 1}, {15, 1}, {16, 1}, {17, 2},
	} {
		seq := randSeq(r, tc.seqLen)
		if got := twobit.NumWords(tc.seqLen); got != tc.nWord {
			t.Fatalf("NumWords(%d) = %d, want %d", tc.seqLen, got, tc.nWord)
		}
		want := make([]uint32, tc.nWord)
		packSlow(want, seq)
		got := make([]uint32, tc.nWord)
		twobit.PackParallel(got, seq, 0)
		if !uint32sEqual(want, got) {
			t.Fatalf("seqLen=%d: mismatched PackParallel result", tc.seqLen)
		}
	}
}

func TestPackIdempotent(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	seq := randSeq(r, 1000)
	dst1 := make([]uint32, twobit.NumWords(len(seq)))
	dst2 := make([]uint32, twobit.NumWords(len(seq)))
	twobit.PackParallel(dst1, seq, 0)
	twobit.PackParallel(dst2, seq, 0)
	if !uint32sEqual(dst1, dst2) {
		t.Fatal("Two packs of the same sequence disagree.")
	}
}

func TestRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(4))
	bases := []byte{'A', 'C', 'G', 'T'}
	for iter := 0; iter < 100; iter++ {
		seq := make([]byte, r.Intn(500))
		for i := range seq {
			seq[i] = bases[r.Intn(4)]
		}
		packed := make([]uint32, twobit.NumWords(len(seq)))
		twobit.Pack(packed, seq)
		unpacked := make([]byte, len(seq))
		twobit.Unpack(unpacked, packed)
		if !bytes.Equal(seq, unpacked) {
			t.Fatal("Unpack didn't invert Pack.")
		}
	}
}

func TestPackSizeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Pack with undersized dst didn't panic.")
		}
	}()
	twobit.Pack(make([]uint32, 1), bytes.Repeat([]byte{'A'}, 17))
}

func uint32sEqual(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

/*
Benchmark results:
  c5.9xlarge (36 vCPU)

Benchmark_Pack/Seq1Cpu-36         	      50	  31047227 ns/op
Benchmark_Pack/ParHalfCpu-36      	     500	   2628919 ns/op
Benchmark_Pack/ParAllCpu-36       	     500	   2433428 ns/op
*/

func packSeqSubtask(dst []uint32, seq []byte, nIter int) int {
	for iter := 0; iter < nIter; iter++ {
		twobit.Pack(dst, seq)
	}
	return int(dst[0])
}

func packParSubtask(parallelism int) func(dst []uint32, seq []byte, nIter int) int {
	return func(dst []uint32, seq []byte, nIter int) int {
		for iter := 0; iter < nIter; iter++ {
			twobit.PackParallel(dst, seq, parallelism)
		}
		return int(dst[0])
	}
}

func Benchmark_Pack(b *testing.B) {
	funcs := []struct {
		f   func(dst []uint32, seq []byte, nIter int) int
		tag string
	}{
		{packSeqSubtask, "Seq1Cpu"},
		{packParSubtask(runtime.NumCPU() / 2), "ParHalfCpu"},
		{packParSubtask(runtime.NumCPU()), "ParAllCpu"},
	}
	r := rand.New(rand.NewSource(5))
	seq := randSeq(r, 100<<20)
	dst := make([]uint32, twobit.NumWords(len(seq)))
	for _, f := range funcs {
		b.Run(f.tag, func(b *testing.B) {
			f.f(dst, seq, b.N)
		})
	}
}
