package main

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/whatsapp-channel-adapter/internal/twilio"
)

func signCmd() *cobra.Command {
	var (
		endpoint string
		token    string
		bodyFile string
	)
	cmd := &cobra.Command{
		Use:   "sign [key=value ...]",
		Short: "Compute an X-Twilio-Signature",
		Long: "Computes the signature Twilio would send for a webhook, for replaying requests against the gateway. " +
			"Form parameters are given as key=value arguments; --json-body signs a JSON body instead.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				token = os.Getenv("TWILIO_AUTH_TOKEN")
			}
			if token == "" {
				return errors.New("--token or TWILIO_AUTH_TOKEN is required")
			}
			if endpoint == "" {
				endpoint = os.Getenv("TWILIO_ENDPOINT_URL")
			}
			if endpoint == "" {
				return errors.New("--url or TWILIO_ENDPOINT_URL is required")
			}

			out := cmd.OutOrStdout()
			if bodyFile != "" {
				body, err := os.ReadFile(bodyFile)
				if err != nil {
					return err
				}
				signedURL := withBodyHash(endpoint, body)
				fmt.Fprintf(out, "url: %s\n", signedURL)
				fmt.Fprintf(out, "%s: %s\n", twilio.SignatureHeader, twilio.ExpectedSignature(token, signedURL, nil))
				return nil
			}

			params, err := parseParams(args)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %s\n", twilio.SignatureHeader, twilio.ExpectedSignature(token, endpoint, params))
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "url", "", "public webhook URL (default TWILIO_ENDPOINT_URL)")
	cmd.Flags().StringVar(&token, "token", "", "auth token (default TWILIO_AUTH_TOKEN)")
	cmd.Flags().StringVar(&bodyFile, "json-body", "", "file holding a JSON body to sign")
	return cmd
}

func parseParams(args []string) (url.Values, error) {
	params := url.Values{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("parameter %q is not key=value", arg)
		}
		params.Add(key, value)
	}
	return params, nil
}

func withBodyHash(endpoint string, body []byte) string {
	sum := sha256.Sum256(body)
	sep := "?"
	if strings.Contains(endpoint, "?") {
		sep = "&"
	}
	return endpoint + sep + "bodySHA256=" + hex.EncodeToString(sum[:])
}
