package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/pdfseal/pdfseal/pdf/document"
	"github.com/pdfseal/pdfseal/sign/cms"
)

// VerifyResult describes the outcome for one embedded signature.
type VerifyResult struct {
	Field       string    `json:"field"`
	Valid       bool      `json:"valid"`
	Error       string    `json:"error,omitempty"`
	Signer      string    `json:"signer,omitempty"`
	SigningTime time.Time `json:"signing_time,omitempty"`
}

// VerifyCommand implements the 'verify' command.
func VerifyCommand(args []string) {
	verifyFlags := flag.NewFlagSet("verify", flag.ExitOnError)

	var asJSON bool
	verifyFlags.BoolVar(&asJSON, "json", false, "Output results in JSON format")

	verifyFlags.Usage = func() {
		fmt.Printf("Usage: %s verify [options] <input.pdf>\n\n", os.Args[0])
		fmt.Println("Verify the digital signature(s) of a PDF file.")
		fmt.Println("")
		fmt.Println("Checks that each signature container decodes, that its digest")
		fmt.Println("covers the byte range, and that the signature value verifies")
		fmt.Println("against the embedded certificate. Trust chains are not checked.")
		fmt.Println("")
		fmt.Println("Options:")
		verifyFlags.PrintDefaults()
	}

	if err := verifyFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}
	if len(verifyFlags.Args()) != 1 {
		verifyFlags.Usage()
		osExit(1)
		return
	}

	results, err := verifyPDF(verifyFlags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	allValid := true
	for _, r := range results {
		if !r.Valid {
			allValid = false
		}
	}

	if asJSON {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
			return
		}
		fmt.Println(string(out))
	} else {
		for _, r := range results {
			status := "VALID"
			if !r.Valid {
				status = "INVALID"
			}
			fmt.Printf("%s: %s", r.Field, status)
			if r.Signer != "" {
				fmt.Printf(" (signer: %s)", r.Signer)
			}
			if !r.SigningTime.IsZero() {
				fmt.Printf(" signed at %s", r.SigningTime.Format(time.RFC3339))
			}
			if r.Error != "" {
				fmt.Printf(": %s", r.Error)
			}
			fmt.Println()
		}
	}

	if !allValid {
		osExit(1)
	}
}

// verifyPDF checks all embedded signatures of the file.
func verifyPDF(path string) ([]VerifyResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}
	sigs, err := doc.EmbeddedSignatures()
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, fmt.Errorf("no signatures found in %s", path)
	}

	results := make([]VerifyResult, 0, len(sigs))
	for _, sig := range sigs {
		result := VerifyResult{Field: sig.FieldName}

		signedContent, err := sig.SignedBytes()
		if err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		if err := cms.Verify(sig.Contents, signedContent); err != nil {
			result.Error = err.Error()
			results = append(results, result)
			continue
		}
		result.Valid = true

		if certs, err := cms.Certificates(sig.Contents); err == nil && len(certs) > 0 {
			result.Signer = certs[0].Subject.CommonName
		}
		if when, err := cms.SigningTime(sig.Contents); err == nil {
			result.SigningTime = when
		}
		results = append(results, result)
	}
	return results, nil
}
