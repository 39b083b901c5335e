// Package annotation produces the annotated output and run log for a VCF
// input, and runs that workload as a subprocess on behalf of the pipeline.
package annotation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gas/internal/objectkey"
	"gas/internal/services"
)

// Variant classes written to the ANNOT column.
const (
	ClassSNV   = "SNV"
	ClassMNV   = "MNV"
	ClassIns   = "INS"
	ClassDel   = "DEL"
	ClassOther = "OTHER"
)

// Summary counts what an annotation run saw.
type Summary struct {
	Variants     int
	Skipped      int
	ByChromosome map[string]int
	ByClass      map[string]int
	Elapsed      time.Duration
}

// Outputs names the files an annotation run writes next to its input.
type Outputs struct {
	ResultPath string
	LogPath    string
}

// OutputsFor returns the artifact paths for inputPath.
func OutputsFor(inputPath string) Outputs {
	return Outputs{
		ResultPath: inputPath + objectkey.ResultSuffix,
		LogPath:    inputPath + objectkey.LogSuffix,
	}
}

// Annotate reads the VCF at inputPath and writes <input>.annot, the input
// with an ANNOT column classifying each variant, and <input>.count.log with
// per-chromosome and per-class counts.
func Annotate(inputPath string) (Summary, error) {
	started := time.Now()
	in, err := os.Open(inputPath)
	if err != nil {
		return Summary{}, services.Wrap(services.ErrValidation, "annotation", "open input", inputPath, err)
	}
	defer in.Close()

	outputs := OutputsFor(inputPath)
	out, err := os.Create(outputs.ResultPath)
	if err != nil {
		return Summary{}, fmt.Errorf("create result file: %w", err)
	}
	summary, err := annotateStream(in, out)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Summary{}, err
	}
	summary.Elapsed = time.Since(started)

	if err := writeCountLog(outputs.LogPath, filepath.Base(inputPath), summary); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func annotateStream(in io.Reader, out io.Writer) (Summary, error) {
	summary := Summary{ByChromosome: map[string]int{}, ByClass: map[string]int{}}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	w := bufio.NewWriter(out)
	sawHeader := false

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "##"):
			fmt.Fprintln(w, line)
			continue
		case strings.HasPrefix(line, "#"):
			sawHeader = true
			fmt.Fprintln(w, `##INFO=<ID=ANNOT,Number=1,Type=String,Description="Variant class">`)
			fmt.Fprintf(w, "%s\tANNOT\n", line)
			continue
		case strings.TrimSpace(line) == "":
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 5 {
			summary.Skipped++
			continue
		}
		class := Classify(fields[3], fields[4])
		summary.Variants++
		summary.ByChromosome[fields[0]]++
		summary.ByClass[class]++
		fmt.Fprintf(w, "%s\t%s\n", line, class)
	}
	if err := scanner.Err(); err != nil {
		return Summary{}, fmt.Errorf("read input: %w", err)
	}
	if !sawHeader {
		return Summary{}, services.Wrap(services.ErrValidation, "annotation", "parse input", "missing #CHROM header line", nil)
	}
	if err := w.Flush(); err != nil {
		return Summary{}, fmt.Errorf("write result: %w", err)
	}
	return summary, nil
}

// Classify names the variant class of a REF/ALT pair. Multi-allelic ALT
// fields are classified by their first allele.
func Classify(ref, alt string) string {
	ref = strings.ToUpper(strings.TrimSpace(ref))
	alt = strings.ToUpper(strings.TrimSpace(alt))
	if i := strings.IndexByte(alt, ','); i >= 0 {
		alt = alt[:i]
	}
	if ref == "" || alt == "" || alt == "." || strings.ContainsAny(alt, "<>[]*") {
		return ClassOther
	}
	switch {
	case len(ref) == 1 && len(alt) == 1:
		return ClassSNV
	case len(ref) == len(alt):
		return ClassMNV
	case len(ref) < len(alt) && strings.HasPrefix(alt, ref[:1]):
		return ClassIns
	case len(ref) > len(alt) && strings.HasPrefix(ref, alt[:1]):
		return ClassDel
	default:
		return ClassOther
	}
}

func writeCountLog(path, inputName string, summary Summary) error {
	var b strings.Builder
	fmt.Fprintf(&b, "input\t%s\n", inputName)
	fmt.Fprintf(&b, "variants\t%d\n", summary.Variants)
	fmt.Fprintf(&b, "skipped\t%d\n", summary.Skipped)
	for _, key := range sortedKeys(summary.ByChromosome) {
		fmt.Fprintf(&b, "chrom\t%s\t%d\n", key, summary.ByChromosome[key])
	}
	for _, key := range sortedKeys(summary.ByClass) {
		fmt.Fprintf(&b, "class\t%s\t%d\n", key, summary.ByClass[key])
	}
	fmt.Fprintf(&b, "runtime_seconds\t%.2f\n", summary.Elapsed.Seconds())
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write count log: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
