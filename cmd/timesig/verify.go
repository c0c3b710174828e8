package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkeyless/timesig/internal/audit"
	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/publications"
	"github.com/openkeyless/timesig/pkg/timestamp"
)

var (
	verifyData         string
	verifyHashHex      string
	verifyPublications string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <token>",
	Short: "Verify a timestamp token",
	Long: `Verify a timestamp token.

Always checks structure, the hash-chain aggregation and (for short-term
tokens) the embedded signature. With --data or --hash the document binding
is checked too; with --publications the trust anchor is checked against the
publications file.`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringVar(&verifyData, "data", "", "verify against this document")
	verifyCmd.Flags().StringVar(&verifyHashHex, "hash", "", "verify against this hex digest (algorithm:hex)")
	verifyCmd.Flags().StringVar(&verifyPublications, "publications", "", "publications file (overrides config)")
}

// documentHash resolves the --data/--hash flags into a DataHash. --data is
// hashed with the token's algorithm; --hash takes the algorithm from its
// "name:" prefix and defaults to SHA-256.
func documentHash(ts *timestamp.Timestamp) (*hash.DataHash, error) {
	switch {
	case verifyData != "" && verifyHashHex != "":
		return nil, fmt.Errorf("--data and --hash are mutually exclusive")
	case verifyData != "":
		alg, err := ts.Algorithm()
		if err != nil {
			return nil, err
		}
		return hashFile(verifyData, alg)
	case verifyHashHex != "":
		alg := hash.SHA256
		digestHex := verifyHashHex
		for i := 0; i < len(verifyHashHex); i++ {
			if verifyHashHex[i] == ':' {
				var err error
				if alg, err = hash.FromName(verifyHashHex[:i]); err != nil {
					return nil, err
				}
				digestHex = verifyHashHex[i+1:]
				break
			}
		}
		digest, err := hex.DecodeString(digestHex)
		if err != nil {
			return nil, fmt.Errorf("bad digest hex: %w", err)
		}
		return &hash.DataHash{Algorithm: alg, Digest: digest}, nil
	default:
		return nil, nil
	}
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := openAudit()
	if err != nil {
		return err
	}
	if log != nil {
		defer log.Close()
	}

	der, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	ts, err := timestamp.Decode(der)
	if err != nil {
		return err
	}

	dh, err := documentHash(ts)
	if err != nil {
		return err
	}

	var source timestamp.PublicationSource
	pubPath := verifyPublications
	if pubPath == "" {
		pubPath = cfg.Publications
	}
	if pubPath != "" {
		data, err := os.ReadFile(pubPath)
		if err != nil {
			return err
		}
		file, err := publications.Decode(data)
		if err != nil {
			return err
		}
		source = file
	}

	info, err := ts.VerifyAgainst(dh, source, false)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	reportVerification(out, ts, info)

	ok := info.Errors == timestamp.NoFailures
	if err := logEvent(log, audit.Event{Type: audit.EventVerify, Target: args[0], Success: ok,
		Detail: fmt.Sprintf("errors=%d status=%d", info.Errors, info.Status)}); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("verification failed (errors bitmap %d)", info.Errors)
	}
	return nil
}

// reportVerification prints the implicit verification result.
func reportVerification(out io.Writer, ts *timestamp.Timestamp, info *timestamp.VerificationInfo) {
	registered := time.Unix(info.Implicit.RegisteredTime, 0).UTC()
	fmt.Fprintf(out, "registered:   %s\n", registered.Format(time.RFC3339))
	fmt.Fprintf(out, "location id:  %d.%d.%d.%d\n",
		info.Implicit.LocationID>>48&0xffff,
		info.Implicit.LocationID>>32&0xffff,
		info.Implicit.LocationID>>16&0xffff,
		info.Implicit.LocationID&0xffff)
	if info.Implicit.LocationName != "" {
		fmt.Fprintf(out, "issuer:       %s\n", info.Implicit.LocationName)
	}
	if ts.Extended() {
		fmt.Fprintf(out, "publication:  %s\n", info.Implicit.PublicationString)
	} else {
		fmt.Fprintf(out, "key:          %s\n", info.Implicit.PublicKeyFingerprint)
	}
	if info.Errors == timestamp.NoFailures {
		fmt.Fprintf(out, "result:       OK\n")
	} else {
		fmt.Fprintf(out, "result:       FAILED (errors bitmap %d)\n", info.Errors)
	}
}
