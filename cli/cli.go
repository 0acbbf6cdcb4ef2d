// Package cli provides the command-line interface for PDF signing.
package cli

import (
	"fmt"
	"os"
)

// Version information
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// osExit is a variable for os.Exit to allow testing
var osExit = os.Exit

// Run executes the CLI with the given arguments.
func Run(args []string) {
	if len(args) < 2 {
		Usage()
		return
	}

	switch args[1] {
	case "sign":
		SignCommand(args)
	case "verify":
		VerifyCommand(args)
	case "fields":
		FieldsCommand(args)
	case "version":
		VersionCommand()
	case "help", "-h", "--help":
		Usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[1])
		Usage()
	}
}

// Usage prints the CLI usage information.
func Usage() {
	fmt.Printf("pdfseal - PDF digital signature tool\n\n")
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  sign     Sign a PDF file with a digital signature")
	fmt.Println("  verify   Verify the digital signature(s) of a PDF file")
	fmt.Println("  fields   List the signature fields of a PDF file")
	fmt.Println("  version  Show version information")
	fmt.Println("  help     Show this help message")
	fmt.Println("")
	fmt.Printf("Use '%s <command> -h' for command-specific help\n", os.Args[0])
	fmt.Println("")
	fmt.Println("Examples:")
	fmt.Printf("  %s sign -config profile.yaml input.pdf output.pdf\n", os.Args[0])
	fmt.Printf("  %s sign -reason Approved input.pdf output.pdf cert.pem key.pem\n", os.Args[0])
	fmt.Printf("  %s verify -json document.pdf\n", os.Args[0])
}

// VersionCommand prints version information.
func VersionCommand() {
	fmt.Printf("pdfseal version %s\n", Version)
	fmt.Printf("Build time: %s\n", BuildTime)
}
