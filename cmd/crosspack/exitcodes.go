package main

import "os"

// Exit codes. Anything non-zero signals failure; ExitGeneral covers every
// error today, leaving room for finer-grained codes later.
const (
	ExitOK      = 0
	ExitGeneral = 1
)

func exitWithCode(code int) {
	os.Exit(code)
}
