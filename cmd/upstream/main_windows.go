//go:build windows

package main

import (
	"fmt"
	"os"
)

func main() {
	_, _ = fmt.Fprintln(os.Stderr, "upstream supervises POSIX processes and does not run on windows")
	os.Exit(1)
}
