package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// httpClientFromCmd builds the base URL and bearer token trigger/stats use
// to call a running engine's control surface over HTTP.
func httpClientFromCmd(cmd *cobra.Command) (addr, token string) {
	addr, _ = cmd.Flags().GetString("addr")
	token, _ = cmd.Flags().GetString("token")
	if token == "" {
		token = os.Getenv("ENGINE_TOKEN")
	}
	return addr, token
}

func doRequest(cmd *cobra.Command, method, path string) ([]byte, error) {
	addr, token := httpClientFromCmd(cmd)
	req, err := http.NewRequest(method, addr+path, nil)
	if err != nil {
		return nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(body))
	}
	return body, nil
}

func newTriggerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trigger <job>",
		Short: "Trigger a scheduled job synchronously and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := doRequest(cmd, http.MethodPost, "/jobs/"+args[0]+"/trigger")
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print scheduler, breaker, and key-pool statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := doRequest(cmd, http.MethodGet, "/stats")
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
}

func printJSON(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		fmt.Println(string(body))
		return nil
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}
