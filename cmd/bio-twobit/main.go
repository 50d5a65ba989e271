package main

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/twobit"
	"github.com/grailbio/twobit/encoding/fasta"
	"github.com/grailbio/twobit/encoding/twobitio"
	"github.com/klauspost/compress/gzip"
	"github.com/minio/highwayhash"
	"v.io/x/lib/cmdline"
)

func readFASTA(path string) ([]fasta.Seq, error) {
	ctx := vcontext.Background()
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	var r io.Reader = in.Reader(ctx)
	if u := compress.NewReaderPath(r, in.Name()); u != nil {
		r = u
	}
	seqs, err := fasta.Read(r)
	if e := in.Close(ctx); e != nil && err == nil {
		err = e
	}
	return seqs, err
}

func runCompress(fastaPath, outPath, statsPath string, parallelism int) error {
	ctx := vcontext.Background()
	seqs, err := readFASTA(fastaPath)
	if err != nil {
		return err
	}
	w, err := twobitio.NewWriter(ctx, outPath)
	if err != nil {
		return err
	}
	var nBases, nWords int64
	for i := range seqs {
		seq := &seqs[i]
		words := make([]uint32, twobit.NumWords(len(seq.Bases)))
		twobit.PackParallel(words, seq.Bases, parallelism)
		w.Append(&twobitio.Record{Name: seq.Name, SeqLen: len(seq.Bases), Words: words})
		nBases += int64(len(seq.Bases))
		nWords += int64(len(words))
	}
	if err := w.Close(ctx); err != nil {
		return err
	}
	log.Printf("compress: %d sequences, %d bases -> %d words, written to %s",
		len(seqs), nBases, nWords, outPath)
	if statsPath == "" {
		return nil
	}
	return writeStats(statsPath, seqs)
}

func writeStats(path string, seqs []fasta.Seq) (err error) {
	ctx := vcontext.Background()
	dst, err := file.Create(ctx, path)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)
	w := tsv.NewWriter(dst.Writer(ctx))
	w.WriteString("NAME\tBASES\tWORDS\tPACKED_BYTES")
	if err = w.EndLine(); err != nil {
		return err
	}
	for i := range seqs {
		nWord := twobit.NumWords(len(seqs[i].Bases))
		w.WriteString(seqs[i].Name)
		w.WriteString(strconv.Itoa(len(seqs[i].Bases)))
		w.WriteString(strconv.Itoa(nWord))
		w.WriteString(strconv.Itoa(4 * nWord))
		if err = w.EndLine(); err != nil {
			return err
		}
	}
	return w.Flush()
}

func runDecompress(rioPath, fastaPath string, lineWidth int) (err error) {
	ctx := vcontext.Background()
	recs, trailer, err := twobitio.ReadAll(ctx, rioPath)
	if err != nil {
		return err
	}
	seqs := make([]fasta.Seq, len(recs))
	for i, rec := range recs {
		bases := make([]byte, rec.SeqLen)
		twobit.Unpack(bases, rec.Words)
		seqs[i] = fasta.Seq{Name: rec.Name, Bases: bases}
	}
	out, err := file.Create(ctx, fastaPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, out, &err)
	var w io.Writer = out.Writer(ctx)
	if strings.HasSuffix(fastaPath, ".gz") {
		gz := gzip.NewWriter(w)
		defer func() {
			if e := gz.Close(); e != nil && err == nil {
				err = e
			}
		}()
		w = gz
	}
	if err = fasta.Write(w, seqs, lineWidth); err != nil {
		return err
	}
	log.Printf("decompress: %d sequences, %d bases, written to %s",
		trailer.NumSeqs, trailer.NumBases, fastaPath)
	return nil
}

func runVerify(rioPath string) error {
	ctx := vcontext.Background()
	r, err := twobitio.NewReader(ctx, rioPath)
	if err != nil {
		return err
	}
	var zeroKey [32]byte
	digest, err := highwayhash.New(zeroKey[:])
	if err != nil {
		return err
	}
	var nBad, nSeqs int
	var b [8]byte
	for r.Scan() {
		rec := r.Get()
		nSeqs++
		if err := rec.Verify(); err != nil {
			log.Error.Printf("verify %s: %v", rioPath, err)
			nBad++
			continue
		}
		digest.Write([]byte(rec.Name))
		binary.LittleEndian.PutUint64(b[:], uint64(rec.SeqLen))
		digest.Write(b[:])
		for _, word := range rec.Words {
			binary.LittleEndian.PutUint32(b[:4], word)
			digest.Write(b[:4])
		}
	}
	trailer := r.Trailer()
	if err := r.Err(); err != nil {
		_ = r.Close(ctx)
		return err
	}
	if err := r.Close(ctx); err != nil {
		return err
	}
	if nSeqs != trailer.NumSeqs {
		return fmt.Errorf("%s: %d records scanned, trailer says %d", rioPath, nSeqs, trailer.NumSeqs)
	}
	if nBad > 0 {
		return fmt.Errorf("%s: %d of %d records failed checksum verification", rioPath, nBad, nSeqs)
	}
	log.Printf("verify: %d sequences, %d bases ok, archive digest %s",
		trailer.NumSeqs, trailer.NumBases, hex.EncodeToString(digest.Sum(nil)))
	return nil
}

func newCmdCompress() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "compress",
		Short:    "Pack a FASTA file into a 2-bit recordio file",
		ArgsName: "fastapath riopath",
	}
	parallelism := cmd.Flags.Int("parallelism", 0, "Maximum number of goroutines packing one sequence; 0 = runtime.NumCPU()")
	statsPath := cmd.Flags.String("stats", "", "If nonempty, write a per-sequence TSV summary to this path")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("compress takes fastapath riopath, but found %v", argv)
		}
		return runCompress(argv[0], argv[1], *statsPath, *parallelism)
	})
	return cmd
}

func newCmdDecompress() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "decompress",
		Short:    "Expand a 2-bit recordio file back into FASTA",
		ArgsName: "riopath fastapath",
	}
	lineWidth := cmd.Flags.Int("line-width", 80, "Wrap FASTA base lines at this many columns; <= 0 writes one line per sequence")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 2 {
			return fmt.Errorf("decompress takes riopath fastapath, but found %v", argv)
		}
		return runDecompress(argv[0], argv[1], *lineWidth)
	})
	return cmd
}

func newCmdVerify() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "verify",
		Short:    "Check record checksums and print a whole-archive digest",
		ArgsName: "riopath",
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("verify takes a riopath, but found %v", argv)
		}
		return runVerify(argv[0])
	})
	return cmd
}

func main() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(
		&cmdline.Command{
			Name:     "bio-twobit",
			Short:    "Tools for working with 2-bit packed DNA sequence files",
			LookPath: false,
			Children: []*cmdline.Command{
				newCmdCompress(),
				newCmdDecompress(),
				newCmdVerify(),
			},
		})
}
