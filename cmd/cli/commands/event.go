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
)

var payloadFile string

var eventCmd = &cobra.Command{
	Use:   "event [event-name]",
	Short: "Publish a business event to the engine",
	Long: `Publish a business event through the engine API, firing any
active event-triggered automations.

Examples:
  automation event order.created --payload order.json
  automation event inventory.low_stock`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eventName := args[0]

		payload := map[string]interface{}{}
		if payloadFile != "" {
			data, err := os.ReadFile(payloadFile)
			if err != nil {
				fmt.Printf("Error: cannot read payload file: %v\n", err)
				os.Exit(1)
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				fmt.Printf("Error: invalid payload JSON: %v\n", err)
				os.Exit(1)
			}
		}

		body, _ := json.Marshal(map[string]interface{}{
			"name":    eventName,
			"payload": payload,
		})

		status, respBody, err := apiPost("/api/v1/events", body)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		if status != http.StatusAccepted {
			fmt.Printf("Event rejected (status %d): %s\n", status, respBody)
			os.Exit(1)
		}

		fmt.Printf("Event %s published\n", eventName)
	},
}

func init() {
	eventCmd.Flags().StringVar(&payloadFile, "payload", "", "JSON file with the event payload")
	rootCmd.AddCommand(eventCmd)
}

func apiPost(path string, body []byte) (int, string, error) {
	req, err := http.NewRequest(http.MethodPost, viper.GetString("api.url")+path, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
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
