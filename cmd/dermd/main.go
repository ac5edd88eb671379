// Command dermd is the skin-lesion checkup backend daemon. It exposes two
// run modes behind one binary: "serve" starts the HTTP API, "worker" starts
// the inference worker pool. Both share the SQLite database and the embedded
// task queue, so a single-node deployment can run them in one process tree
// and a larger one can scale workers separately.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
