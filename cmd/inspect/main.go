// inspect dumps the contents of a threadsync store for debugging.
package main

import (
	"flag"
	"fmt"
	"os"

	"threadsync/pkg/logger"
	"threadsync/pkg/store"
)

func main() {
	var dbPath, prefix string
	var statsOnly bool
	flag.StringVar(&dbPath, "db", "", "Pebble DB path")
	flag.StringVar(&prefix, "prefix", "", "key prefix filter (session:, thread:, msg:)")
	flag.BoolVar(&statsOnly, "stats", false, "print counts only")
	flag.Parse()
	if dbPath == "" {
		fmt.Fprintln(os.Stderr, "--db required")
		os.Exit(2)
	}
	logger.Init("error", "text")

	st, err := store.Open(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", dbPath, err)
		os.Exit(1)
	}
	defer st.Close()

	stats := st.CollectStats()
	fmt.Printf("sessions=%d threads=%d messages=%d\n",
		stats.Sessions, stats.Threads, stats.Messages)
	if statsOnly {
		return
	}
	if err := st.Dump(prefix, func(key string, value []byte) {
		fmt.Printf("%s\t%s\n", key, value)
	}); err != nil {
		fmt.Fprintf(os.Stderr, "dump: %v\n", err)
		os.Exit(1)
	}
}
