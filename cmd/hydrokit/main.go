// Command hydrokit runs the add-on server and its tooling.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hydrokit:", err)
		os.Exit(1)
	}
}
