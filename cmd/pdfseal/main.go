// Command pdfseal signs and verifies PDF documents.
//
// Usage:
//
//	pdfseal <command> [options] <args>
//
// Commands:
//
//	sign     Sign a PDF file with a digital signature
//	verify   Verify the digital signature(s) of a PDF file
//	fields   List the signature fields of a PDF file
//	version  Show version information
//	help     Show help message
package main

import (
	"os"

	"github.com/pdfseal/pdfseal/cli"
)

// These variables are set at build time using ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/pdfseal
var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime
	cli.Run(os.Args)
}
