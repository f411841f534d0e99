package cmd

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// clientFlags describes how a CLI client command reaches a running serve
// instance: its base URL, and the mTLS material that httpClient requires
// unless this command's own --insecure flag is set.
type clientFlags struct {
	address    string
	caCert     string
	clientCert string
	clientKey  string
	insecure   bool
}

func (c *clientFlags) applyFlags(flags *pflag.FlagSet) {
	flags.StringVar(&c.address, "address", "http://localhost:8080", "Base URL the server is listening on")
	flags.StringVar(&c.caCert, "server-ca-cert", "", "CA certificate file to verify the server certificate")
	flags.StringVar(&c.clientCert, "client-cert", "", "Client certificate file to send for auth")
	flags.StringVar(&c.clientKey, "client-key", "", "Client key file to send for auth")
	flags.BoolVar(&c.insecure, "insecure", false, "Connect over plain HTTP instead of mTLS")
}

func (c *clientFlags) httpClient() (*http.Client, error) {
	if c.insecure {
		return http.DefaultClient, nil
	}
	if c.caCert == "" || c.clientCert == "" || c.clientKey == "" {
		return nil, fmt.Errorf("server CA cert, client cert, and client key are required unless --insecure is set")
	}
	caCertBytes, err := os.ReadFile(c.caCert)
	if err != nil {
		return nil, fmt.Errorf("reading server CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCertBytes) {
		return nil, fmt.Errorf("failed adding server CA cert from PEM")
	}
	cert, err := tls.LoadX509KeyPair(c.clientCert, c.clientKey)
	if err != nil {
		return nil, fmt.Errorf("loading client key pair: %w", err)
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			RootCAs:      pool,
			Certificates: []tls.Certificate{cert},
		},
	}
	return &http.Client{Transport: transport, Timeout: 30 * time.Second}, nil
}

func (c *clientFlags) get(cmdCtx *cobra.Command, path string) ([]byte, int, error) {
	client, err := c.httpClient()
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(cmdCtx.Context(), http.MethodGet, c.address+path, nil)
	if err != nil {
		return nil, 0, err
	}
	return doRequest(client, req)
}

func (c *clientFlags) delete(cmdCtx *cobra.Command, path string) ([]byte, int, error) {
	client, err := c.httpClient()
	if err != nil {
		return nil, 0, err
	}
	req, err := http.NewRequestWithContext(cmdCtx.Context(), http.MethodDelete, c.address+path, nil)
	if err != nil {
		return nil, 0, err
	}
	return doRequest(client, req)
}

func (c *clientFlags) postJSON(cmdCtx *cobra.Command, path string, body any) ([]byte, int, error) {
	client, err := c.httpClient()
	if err != nil {
		return nil, 0, err
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(cmdCtx.Context(), http.MethodPost, c.address+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	return doRequest(client, req)
}

func doRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("calling %v: %w", req.URL, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func printJSON(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(strings.TrimSpace(string(body)))
		return nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func getCmd() *cobra.Command {
	var includeOutput bool
	var flags clientFlags
	cmd := &cobra.Command{
		Use:          "get JOB_ID",
		Short:        "Fetch a job's status and, optionally, its output",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/result/%s?include_output=%t", args[0], includeOutput)
			body, status, err := flags.get(cmd, path)
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(body)))
			}
			return printJSON(body)
		},
	}
	flags.applyFlags(cmd.Flags())
	cmd.Flags().BoolVar(&includeOutput, "output", true, "Include stdout/stderr/compile_output in the response")
	return cmd
}

func stopCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:          "stop JOB_ID",
		Short:        "Cancel a queued or running job by its ID",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, status, err := flags.delete(cmd, "/cancel/"+args[0])
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(body)))
			}
			return printJSON(body)
		},
	}
	flags.applyFlags(cmd.Flags())
	return cmd
}

func statsCmd() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:          "stats",
		Short:        "Show engine-wide submission counts and host load",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			body, status, err := flags.get(cmd, "/stats")
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(body)))
			}
			return printJSON(body)
		},
	}
	flags.applyFlags(cmd.Flags())
	return cmd
}

// runRequest is the CLI-submitted subset of the HTTP /execute wire form.
type runRequest struct {
	Language   string `json:"language"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin,omitempty"`
}

func runCmd() *cobra.Command {
	var language, stdin, sourceFile string
	var poll time.Duration
	var flags clientFlags
	cmd := &cobra.Command{
		Use:          "run SOURCE_FILE",
		Short:        "Submit source code for execution and wait for the result",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			sourceFile = args[0]
			source, err := os.ReadFile(sourceFile)
			if err != nil {
				return fmt.Errorf("reading source file: %w", err)
			}
			if language == "" {
				return fmt.Errorf("--language is required")
			}
			body, status, err := flags.postJSON(cmd, "/execute", runRequest{
				Language:   language,
				SourceCode: string(source),
				Stdin:      stdin,
			})
			if err != nil {
				return err
			}
			if status != http.StatusAccepted {
				return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(body)))
			}
			var submitResp struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(body, &submitResp); err != nil {
				return fmt.Errorf("decoding submit response: %w", err)
			}
			fmt.Printf("submitted %s, waiting for completion...\n", submitResp.ID)

			ticker := time.NewTicker(poll)
			defer ticker.Stop()
			for {
				select {
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				case <-ticker.C:
					statusBody, statusCode, err := flags.get(cmd, "/status/"+submitResp.ID)
					if err != nil {
						return err
					}
					if statusCode != http.StatusOK {
						return fmt.Errorf("server returned %d: %s", statusCode, strings.TrimSpace(string(statusBody)))
					}
					var status struct {
						Status string `json:"status"`
					}
					if err := json.Unmarshal(statusBody, &status); err != nil {
						return fmt.Errorf("decoding status response: %w", err)
					}
					if isTerminalStatus(status.Status) {
						resultBody, _, err := flags.get(cmd, "/result/"+submitResp.ID)
						if err != nil {
							return err
						}
						return printJSON(resultBody)
					}
				}
			}
		},
	}
	flags.applyFlags(cmd.Flags())
	cmd.Flags().StringVar(&language, "language", "", "Language tag or name registered in the catalog")
	cmd.Flags().StringVar(&stdin, "stdin", "", "Stdin to feed the program")
	cmd.Flags().DurationVar(&poll, "poll", 200*time.Millisecond, "Interval to poll /status at")
	return cmd
}

func isTerminalStatus(status string) bool {
	switch status {
	case "completed", "compilation_error", "runtime_error", "time_limit_exceeded",
		"memory_limit_exceeded", "cancelled", "internal_error":
		return true
	default:
		return false
	}
}
