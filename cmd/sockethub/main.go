package main

import (
	"os"

	"github.com/awnumar/memguard"
)

func main() {
	code := Execute()
	memguard.Purge()
	os.Exit(code)
}
