package main

import (
	"encoding/json"
	"fmt"
	"os"

	"mrsm/internal/action"
)

// emit writes one result in the format spec section 6's --nopretty
// flag selects: human text by default, one NDJSON action.Result line
// per call when set.
func emit(nopretty bool, label string, r action.Result) {
	if nopretty {
		line, err := json.Marshal(r)
		if err != nil {
			fmt.Fprintln(os.Stderr, "mrsm: marshal result:", err)
			return
		}
		fmt.Println(string(line))
		return
	}
	fmt.Printf("%s: %s\n", label, r)
}
