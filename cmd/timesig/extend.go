package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openkeyless/timesig/internal/audit"
	"github.com/openkeyless/timesig/pkg/timestamp"
)

var (
	extendOut     string
	extendGateway string
)

var extendCmd = &cobra.Command{
	Use:   "extend <token>",
	Short: "Extend a short-term timestamp into a hash-linked one",
	Long: `Extend a short-term timestamp into a hash-linked one.

The extender is asked for the hash chain connecting the token's aggregation
round to a printed publication; on success the PKI signature is replaced
with that chain and the embedded certificate is dropped.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtend,
}

func init() {
	extendCmd.Flags().StringVarP(&extendOut, "out", "o", "", "write the extended token here (default: overwrite input)")
	extendCmd.Flags().StringVar(&extendGateway, "gateway", "", "extender URL (overrides config)")
}

func runExtend(cmd *cobra.Command, args []string) error {
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
	if ts.Extended() {
		fmt.Fprintln(cmd.OutOrStdout(), "token is already extended")
		return nil
	}

	request, err := ts.PrepareExtensionRequest()
	if err != nil {
		return err
	}

	gateway := extendGateway
	if gateway == "" {
		gateway = cfg.Extender
	}
	if gateway == "" {
		return fmt.Errorf("no extender gateway configured; use --gateway")
	}

	response, err := post(gateway, "application/octet-stream", request)
	if err != nil {
		logEvent(log, audit.Event{Type: audit.EventExtend, Target: args[0], Gateway: gateway, Detail: err.Error()})
		return err
	}

	extended, err := ts.CreateExtendedTimestamp(response)
	if err != nil {
		logEvent(log, audit.Event{Type: audit.EventExtend, Target: args[0], Gateway: gateway, Detail: err.Error()})
		return err
	}

	out := extendOut
	if out == "" {
		out = args[0]
	}
	if err := os.WriteFile(out, extended.Encode(), 0o644); err != nil {
		return err
	}

	if err := logEvent(log, audit.Event{Type: audit.EventExtend, Target: args[0], Gateway: gateway, Success: true}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	return nil
}
