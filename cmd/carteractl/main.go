// Command carteractl runs the cartera consolidations and the gestion report without
// the web dashboard, for cron jobs on other hosts and for troubleshooting.
package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
