package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newDeployCommand() *cobra.Command {
	var baseURL string
	var serviceID int64

	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Trigger a manual deployment against a running pushbot server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeploy(baseURL, serviceID)
		},
	}

	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "pushbot server base URL")
	cmd.Flags().Int64Var(&serviceID, "service-id", 0, "id of the service to deploy")
	cmd.MarkFlagRequired("service-id")

	return cmd
}

func runDeploy(baseURL string, serviceID int64) error {
	url := fmt.Sprintf("%s/api/services/%d/deploy", baseURL, serviceID)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("trigger deploy: %w", err)
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deploy failed (%d): %v", resp.StatusCode, out)
	}

	fmt.Printf("deployment_id=%v service=%v\n", out["deployment_id"], out["service"])
	return nil
}
