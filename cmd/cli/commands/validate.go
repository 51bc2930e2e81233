package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erpcore/automation-engine/internal/models"
	"github.com/erpcore/automation-engine/internal/validators"
)

var definitionType string

var validateCmd = &cobra.Command{
	Use:   "validate [definition-file]",
	Short: "Validate an automation or workflow definition",
	Long: `Validate a definition file before activating it.

For automations the validator checks the trigger variant, cron syntax,
condition operators and action kinds. For workflows it checks step
types, assigned roles and condition branch targets.

Examples:
  automation validate low-stock-alert.json
  automation validate --type workflow po-approval.json`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filename := args[0]

		data, err := os.ReadFile(filename)
		if err != nil {
			fmt.Printf("Error: cannot read '%s': %v\n", filename, err)
			os.Exit(1)
		}

		v := validators.NewDefinitionValidator()

		switch definitionType {
		case "automation":
			var automation models.Automation
			if err := json.Unmarshal(data, &automation); err != nil {
				fmt.Printf("Error: invalid JSON: %v\n", err)
				os.Exit(1)
			}
			err = v.ValidateAutomation(&automation)

		case "workflow":
			var workflow models.Workflow
			if err := json.Unmarshal(data, &workflow); err != nil {
				fmt.Printf("Error: invalid JSON: %v\n", err)
				os.Exit(1)
			}
			err = v.ValidateWorkflow(&workflow)

		default:
			fmt.Printf("Error: unknown definition type %q (use automation or workflow)\n", definitionType)
			os.Exit(1)
		}

		if err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s is a valid %s definition\n", filename, definitionType)
	},
}

func init() {
	validateCmd.Flags().StringVar(&definitionType, "type", "automation", "definition type: automation or workflow")
	rootCmd.AddCommand(validateCmd)
}
