package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkeyless/timesig/internal/audit"
	"github.com/openkeyless/timesig/pkg/timestamp"
)

var inspectChains bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <token>",
	Short: "Print everything a timestamp token contains",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectChains, "chains", false, "also dump the hash chain steps")
}

func runInspect(cmd *cobra.Command, args []string) error {
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

	info, err := ts.Verify(true)
	if err != nil {
		return err
	}
	explicit := info.Explicit

	out := cmd.OutOrStdout()
	field := func(name, value string) {
		if value != "" {
			fmt.Fprintf(out, "%-22s%s\n", name+":", value)
		}
	}

	field("content type", explicit.ContentType)
	fmt.Fprintf(out, "%-22s%d / %d / %d\n", "versions:", explicit.SignedDataVersion, explicit.TSTInfoVersion, explicit.SignerInfoVersion)
	field("policy", explicit.Policy)
	fmt.Fprintf(out, "%-22s%v\n", "hash algorithm:", explicit.HashAlgorithm)
	field("hash value", explicit.HashValue)
	field("serial", explicit.SerialNumber)
	field("issued", time.Unix(explicit.IssuerRequestTime, 0).UTC().Format(time.RFC3339))
	if explicit.IssuerAccuracy >= 0 {
		fmt.Fprintf(out, "%-22s%d ms\n", "accuracy:", explicit.IssuerAccuracy)
	}
	field("nonce", explicit.Nonce)
	field("issuer name", explicit.IssuerName)
	field("cert issuer", explicit.CertIssuerName)
	field("cert serial", explicit.CertSerialNumber)
	field("signature algorithm", explicit.SignatureAlgorithm)
	fmt.Fprintf(out, "%-22s%d\n", "publication id:", explicit.PublicationID)
	field("publication hash", fmt.Sprintf("%v:%s", explicit.PublicationHashAlg, explicit.PublicationHash))
	field("pki algorithm", explicit.PKIAlgorithm)
	for _, ref := range explicit.KeyCommitmentRefs {
		field("key commitment", ref)
	}
	for _, ref := range explicit.PubReferences {
		field("pub reference", ref)
	}

	field("registered", time.Unix(info.Implicit.RegisteredTime, 0).UTC().Format(time.RFC3339))
	field("location name", info.Implicit.LocationName)
	field("key fingerprint", info.Implicit.PublicKeyFingerprint)
	field("publication string", info.Implicit.PublicationString)

	if inspectChains {
		dumpChain(out, "location", explicit.LocationList)
		dumpChain(out, "history", explicit.HistoryList)
	}

	fmt.Fprintf(out, "%-22s%d\n", "error flags:", info.Errors)

	return logEvent(log, audit.Event{Type: audit.EventInspect, Target: args[0], Success: true})
}

func dumpChain(out io.Writer, name string, entries []timestamp.HashEntry) {
	fmt.Fprintf(out, "%s chain (%d steps):\n", name, len(entries))
	for i, e := range entries {
		fmt.Fprintf(out, "  %3d: dir=%d alg=%v level=%d sibling=%s\n", i, e.Direction, e.Algorithm, e.Level, e.SiblingHash)
	}
}
