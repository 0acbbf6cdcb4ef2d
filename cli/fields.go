package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/pdfseal/pdfseal/sign"
)

// FieldsCommand implements the 'fields' command.
func FieldsCommand(args []string) {
	fieldsFlags := flag.NewFlagSet("fields", flag.ExitOnError)

	fieldsFlags.Usage = func() {
		fmt.Printf("Usage: %s fields <input.pdf>\n\n", os.Args[0])
		fmt.Println("List the signature fields of a PDF file.")
	}

	if err := fieldsFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}
	if len(fieldsFlags.Args()) != 1 {
		fieldsFlags.Usage()
		osExit(1)
		return
	}

	data, err := os.ReadFile(fieldsFlags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	manager := sign.NewManager()
	if err := manager.LoadPDF(data); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}
	fields, err := manager.SignatureFields()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	if len(fields) == 0 {
		fmt.Println("No signature fields found")
		return
	}
	for _, f := range fields {
		status := "unsigned"
		if f.Signed {
			status = "signed"
		}
		fmt.Printf("%s\t%s\n", f.Name, status)
	}
}
