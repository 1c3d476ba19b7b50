// cmd/inpaint/main.go
package main

import (
	"fmt"
	"os"

	"github.com/SyedDaiam9101/lama-service/internal/logging"
)

func main() {
	if err := NewCLI().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logging.Sync()
		os.Exit(1)
	}
	logging.Sync()
}
