// Command gas-annotate annotates one VCF input. It writes <input>.annot and
// <input>.count.log next to the input and exits non-zero on failure; the
// annotator worker runs it as processing.annotator_binary.
package main

import (
	"fmt"
	"os"

	"gas/internal/annotation"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: gas-annotate <input.vcf>")
		os.Exit(2)
	}
	summary, err := annotation.Annotate(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("annotated %d variants\n", summary.Variants)
}
