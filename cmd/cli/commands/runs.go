package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/erpcore/automation-engine/internal/models"
)

var runsCmd = &cobra.Command{
	Use:   "runs [automation-id]",
	Short: "Show an automation's run history",
	Long: `Fetch the run history of an automation, newest first.

Examples:
  automation runs 2b9c4f1e-8a3d-4f6b-9c2e-1d5a7b3f8e0c
  automation runs 2b9c4f1e-8a3d-4f6b-9c2e-1d5a7b3f8e0c --json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		automationID := args[0]

		status, body, err := apiGet(fmt.Sprintf("/api/v1/automations/%s/runs", automationID))
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if status != http.StatusOK {
			fmt.Printf("Request failed (status %d): %s\n", status, body)
			os.Exit(1)
		}

		if outputJSON {
			fmt.Println(body)
			return
		}

		var resp models.RunListResponse
		if err := json.Unmarshal([]byte(body), &resp); err != nil {
			fmt.Printf("Error decoding response: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%d run(s) total\n\n", resp.Total)
		for _, run := range resp.Runs {
			finished := "-"
			if run.FinishedAt != nil {
				finished = run.FinishedAt.Format(time.RFC3339)
			}
			fmt.Printf("%s  %-16s  fired %s  finished %s\n",
				run.ID, run.Outcome, run.TriggerFiredAt.Format(time.RFC3339), finished)
			if run.ErrorMessage != nil {
				fmt.Printf("    error: %s\n", *run.ErrorMessage)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
}

func apiGet(path string) (int, string, error) {
	req, err := http.NewRequest(http.MethodGet, viper.GetString("api.url")+path, nil)
	if err != nil {
		return 0, "", err
	}
	if token := viper.GetString("api.token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)

	return resp.StatusCode, buf.String(), nil
}
