/*
bio-twobit packs DNA sequences from a FASTA file into a 2-bit-per-base
recordio file, and back.  Bases outside uppercase ACGT are preserved as
'A' (see package twobit), so decompression of real-world references is
lossy for masked or ambiguous bases.

Sample usage:

bio-twobit compress -stats ref.stats.tsv ref.fa ref.2bit.rio
bio-twobit verify ref.2bit.rio
bio-twobit decompress ref.2bit.rio ref.roundtrip.fa.gz
*/
package main
