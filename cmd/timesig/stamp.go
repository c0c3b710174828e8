package main

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openkeyless/timesig/internal/audit"
	"github.com/openkeyless/timesig/pkg/hash"
	"github.com/openkeyless/timesig/pkg/timestamp"
)

var (
	stampOut       string
	stampAlgorithm string
	stampGateway   string
	stampReqOut    string
)

var stampCmd = &cobra.Command{
	Use:   "stamp <file>",
	Short: "Request a timestamp for a file",
	Long: `Request a timestamp for a file.

The file is hashed locally; only the digest leaves the machine. With a
gateway configured the request is POSTed and the returned token written out.
With --request-out the DER request is written instead, for transports this
tool does not speak.`,
	Args: cobra.ExactArgs(1),
	RunE: runStamp,
}

func init() {
	stampCmd.Flags().StringVarP(&stampOut, "out", "o", "", "write the timestamp token here")
	stampCmd.Flags().StringVar(&stampAlgorithm, "hash", "", "document hash algorithm (default sha256)")
	stampCmd.Flags().StringVar(&stampGateway, "gateway", "", "stamper URL (overrides config)")
	stampCmd.Flags().StringVar(&stampReqOut, "request-out", "", "write the DER request instead of sending it")
}

// hashFile streams a file through a DataHash.
func hashFile(path string, alg hash.Algorithm) (*hash.DataHash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dh, err := hash.Open(alg)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 64*1024)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			if err := dh.Add(buf[:n]); err != nil {
				return nil, err
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if err := dh.Close(); err != nil {
		return nil, err
	}
	return dh, nil
}

// post sends a DER request to a gateway and returns the response body.
func post(url, contentType string, body []byte) ([]byte, error) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Post(url, contentType, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

func resolveAlgorithm(cfg *Config, flag string) (hash.Algorithm, error) {
	name := flag
	if name == "" {
		name = cfg.Algorithm
	}
	if name == "" {
		return hash.SHA256, nil
	}
	return hash.FromName(name)
}

func runStamp(cmd *cobra.Command, args []string) error {
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

	alg, err := resolveAlgorithm(cfg, stampAlgorithm)
	if err != nil {
		return err
	}

	dh, err := hashFile(args[0], alg)
	if err != nil {
		return err
	}

	request, err := timestamp.PrepareTimestampRequest(dh)
	if err != nil {
		return err
	}

	if stampReqOut != "" {
		return os.WriteFile(stampReqOut, request, 0o644)
	}

	gateway := stampGateway
	if gateway == "" {
		gateway = cfg.Stamper
	}
	if gateway == "" {
		return fmt.Errorf("no stamper gateway configured; use --gateway or --request-out")
	}

	response, err := post(gateway, "application/timestamp-query", request)
	if err != nil {
		logEvent(log, audit.Event{Type: audit.EventStamp, Target: args[0], Gateway: gateway, Detail: err.Error()})
		return err
	}

	ts, err := timestamp.CreateTimestamp(response)
	if err != nil {
		logEvent(log, audit.Event{Type: audit.EventStamp, Target: args[0], Gateway: gateway, Detail: err.Error()})
		return err
	}

	out := stampOut
	if out == "" {
		out = args[0] + ".gtts"
	}
	if err := os.WriteFile(out, ts.Encode(), 0o644); err != nil {
		return err
	}

	if err := logEvent(log, audit.Event{Type: audit.EventStamp, Target: args[0], Gateway: gateway, Success: true}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", out)
	return nil
}
