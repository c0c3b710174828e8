// Command timesig is the client tool for keyless timestamps: stamp a
// document, extend a short-term timestamp, verify and inspect tokens.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build-time variables.
var (
	version = "dev"
	commit  = "none"
)

var rootCmd = &cobra.Command{
	Use:   "timesig",
	Short: "Keyless timestamp client",
	Long: `timesig is a client for keyless (hash-linked) timestamps.

A timestamp binds a document hash to a moment in global time. Fresh
timestamps carry a PKI signature of the gateway; extending a timestamp
replaces that signature with a hash chain to a printed publication, after
which nothing needs to be trusted but the publication itself.

Examples:
  # Request a timestamp for a document
  timesig stamp report.pdf -o report.pdf.gtts

  # Verify it against the document and the publications file
  timesig verify report.pdf.gtts --data report.pdf --publications pubs.bin

  # Extend it once the next publication is out
  timesig extend report.pdf.gtts -o report.pdf.gtts

  # Dump everything the token contains
  timesig inspect report.pdf.gtts`,
	Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.timesig.yaml)")
	rootCmd.PersistentFlags().StringVar(&auditPath, "audit", "", "append operations to this audit log")

	rootCmd.AddCommand(stampCmd, extendCmd, verifyCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "timesig:", err)
		os.Exit(1)
	}
}
