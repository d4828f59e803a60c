//go:build !(linux && (amd64 || arm64))

package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Fprintln(os.Stderr, "pcminfo needs ALSA on linux/amd64 or linux/arm64")
	os.Exit(1)
}
