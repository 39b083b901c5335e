package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// SampleVCF is a minimal VCF input with three variants on two chromosomes.
const SampleVCF = `##fileformat=VCFv4.2
##source=gas-test
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO
1	10177	rs367896724	A	AC	100	PASS	AC=2
1	10352	rs555500075	T	TA	100	PASS	AC=1
2	10616	rs376342519	CCGCCGTTGCAAAGGCGCGCCG	C	100	PASS	.
`

// WriteFile writes content to path, creating parent directories.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// ReadFile returns the content at path or fails the test.
func ReadFile(t testing.TB, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
