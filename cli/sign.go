package cli

import (
	"flag"
	"fmt"
	"os"

	"github.com/pdfseal/pdfseal/config"
	"github.com/pdfseal/pdfseal/sign"
	"github.com/pdfseal/pdfseal/sign/signers"
)

// SignCommand implements the 'sign' command.
func SignCommand(args []string) {
	signFlags := flag.NewFlagSet("sign", flag.ExitOnError)

	var (
		configPath string
		fieldName  string
		page       int
		name       string
		location   string
		reason     string
		contact    string
		digest     string
		passphrase string
	)

	signFlags.StringVar(&configPath, "config", "", "YAML signing profile; replaces the certificate and key arguments")
	signFlags.StringVar(&fieldName, "field", "Signature1", "Name of the signature field")
	signFlags.IntVar(&page, "page", 1, "Page the signature field is placed on")
	signFlags.StringVar(&name, "name", "", "Name of the signatory")
	signFlags.StringVar(&location, "location", "", "Location of the signatory")
	signFlags.StringVar(&reason, "reason", "", "Reason for signing")
	signFlags.StringVar(&contact, "contact", "", "Contact information for the signatory")
	signFlags.StringVar(&digest, "digest", "", "Digest algorithm (sha256, sha384, sha512, sha3-256, sha3-384, sha3-512)")
	signFlags.StringVar(&passphrase, "passphrase", "", "Passphrase for an encrypted private key")

	signFlags.Usage = func() {
		fmt.Printf("Usage: %s sign [options] <input.pdf> <output.pdf> [certificate.pem private_key.pem [chain.pem]]\n\n", os.Args[0])
		fmt.Println("Sign a PDF file with a digital signature.")
		fmt.Println("")
		fmt.Println("Arguments:")
		fmt.Println("  input.pdf        Input PDF file to sign")
		fmt.Println("  output.pdf       Output file for the signed PDF")
		fmt.Println("  certificate.pem  Signing certificate (PEM or DER); not needed with -config")
		fmt.Println("  private_key.pem  Private key (PEM or DER); not needed with -config")
		fmt.Println("  chain.pem        Optional certificate chain (PEM format)")
		fmt.Println("")
		fmt.Println("Options:")
		signFlags.PrintDefaults()
		fmt.Println("")
		fmt.Println("Examples:")
		fmt.Printf("  %s sign input.pdf output.pdf cert.pem key.pem\n", os.Args[0])
		fmt.Printf("  %s sign -config profile.yaml input.pdf output.pdf\n", os.Args[0])
		fmt.Printf("  %s sign -reason Approved -field Approval1 input.pdf output.pdf cert.pem key.pem chain.pem\n", os.Args[0])
	}

	if err := signFlags.Parse(args[2:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		osExit(1)
	}

	rest := signFlags.Args()
	if len(rest) < 2 || (configPath == "" && len(rest) < 4) {
		signFlags.Usage()
		osExit(1)
		return
	}
	inputPath, outputPath := rest[0], rest[1]

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
			return
		}
	} else {
		cfg = &config.Config{
			Signature: config.SignatureConfig{
				FieldName:       fieldName,
				Page:            page,
				Name:            name,
				Location:        location,
				Reason:          reason,
				ContactInfo:     contact,
				DigestAlgorithm: digest,
			},
			PemDer: &config.PemDerConfig{
				CertFile:      rest[2],
				KeyFile:       rest[3],
				KeyPassphrase: passphrase,
				ChainFiles:    rest[4:],
			},
		}
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			osExit(1)
			return
		}
	}

	if err := signPDF(inputPath, outputPath, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		osExit(1)
		return
	}

	fmt.Printf("Successfully signed PDF: %s\n", outputPath)
}

// signPDF performs the signing flow: load, add the field when missing,
// prepare the placeholder, sign and finalize.
func signPDF(inputPath, outputPath string, cfg *config.Config) error {
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}

	manager := sign.NewManager()
	if err := manager.LoadPDF(input); err != nil {
		return fmt.Errorf("failed to load PDF: %w", err)
	}

	fieldName := cfg.Signature.FieldName
	fields, err := manager.SignatureFields()
	if err != nil {
		return err
	}
	exists := false
	for _, f := range fields {
		if f.Name == fieldName {
			exists = true
			break
		}
	}
	if !exists {
		page := cfg.Signature.Page
		if page == 0 {
			page = 1
		}
		if err := manager.AddSignatureField(fieldName, page, nil); err != nil {
			return fmt.Errorf("failed to add signature field: %w", err)
		}
	}

	opts := sign.SignatureOptions{
		Reason:       cfg.Signature.Reason,
		Location:     cfg.Signature.Location,
		ContactInfo:  cfg.Signature.ContactInfo,
		Name:         cfg.Signature.Name,
		ContentsSize: cfg.Signature.ContentsSize,
	}
	if err := manager.PrepareSignature(fieldName, opts); err != nil {
		return fmt.Errorf("failed to prepare signature: %w", err)
	}

	signer, closer, err := signers.NewSignerFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}
	defer closer.Close()

	if err := manager.SignAndEmbed(signer, cfg.Signature.Digest()); err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	signed, err := manager.Finalize()
	if err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, signed, 0644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
