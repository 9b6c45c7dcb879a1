package cmd

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cisco-ai-defense/ai-defense-go-sdk/aidefense"
	"github.com/cisco-ai-defense/ai-defense-go-sdk/runtime"
)

var (
	apiKey string
	region string

	chatPrompt   string
	chatResponse string

	httpURL    string
	httpMethod string
	httpBody   string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Inspect content against AI Defense",
}

var inspectChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Inspect a prompt or model response",
	RunE: func(cmd *cobra.Command, args []string) error {
		if chatPrompt == "" && chatResponse == "" {
			return fmt.Errorf("one of --prompt or --response is required")
		}
		cfg, err := aidefense.NewConfig(aidefense.WithRegion(region))
		if err != nil {
			return err
		}
		client, err := runtime.NewChatInspectionClient(resolveAPIKey(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		var messages []runtime.Message
		if chatPrompt != "" {
			messages = append(messages, runtime.Message{Role: runtime.RoleUser, Content: chatPrompt})
		}
		if chatResponse != "" {
			messages = append(messages, runtime.Message{Role: runtime.RoleAssistant, Content: chatResponse})
		}
		verdict, err := client.InspectConversation(cmd.Context(), messages)
		if err != nil {
			return err
		}
		printVerdict(verdict)
		return nil
	},
}

var inspectHTTPCmd = &cobra.Command{
	Use:   "http",
	Short: "Inspect raw HTTP traffic",
	RunE: func(cmd *cobra.Command, args []string) error {
		if httpURL == "" {
			return fmt.Errorf("--url is required")
		}
		cfg, err := aidefense.NewConfig(aidefense.WithRegion(region))
		if err != nil {
			return err
		}
		client, err := runtime.NewHTTPInspectionClient(resolveAPIKey(), cfg)
		if err != nil {
			return err
		}
		defer client.Close()

		body, err := runtime.EncodeBody(httpBody)
		if err != nil {
			return err
		}
		req := &runtime.HTTPReq{
			Method: strings.ToUpper(httpMethod),
			Body:   body,
		}
		meta := &runtime.HTTPMeta{URL: httpURL}
		verdict, err := client.InspectRequest(cmd.Context(), req, meta)
		if err != nil {
			return err
		}
		printVerdict(verdict)
		return nil
	},
}

func resolveAPIKey() string {
	if apiKey != "" {
		return apiKey
	}
	return os.Getenv("AI_DEFENSE_API_KEY")
}

func printVerdict(v *runtime.InspectResponse) {
	if v.IsSafe {
		fmt.Println("verdict: safe")
	} else {
		fmt.Println("verdict: unsafe")
	}
	if len(v.Classifications) > 0 {
		parts := make([]string, 0, len(v.Classifications))
		for _, c := range v.Classifications {
			parts = append(parts, string(c))
		}
		fmt.Printf("classifications: %s\n", strings.Join(parts, ", "))
	}
	if v.Severity != "" {
		fmt.Printf("severity: %s\n", v.Severity)
	}
	for _, r := range v.Rules {
		fmt.Printf("rule: %s (%s)\n", r.RuleName, r.Classification)
	}
	if v.AttackTechnique != "" {
		fmt.Printf("attack technique: %s\n", v.AttackTechnique)
	}
	if v.Explanation != "" {
		fmt.Printf("explanation: %s\n", v.Explanation)
	}
	if v.EventID != "" {
		fmt.Printf("event id: %s\n", v.EventID)
	}
}

func init() {
	inspectCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "AI Defense API key (default: $AI_DEFENSE_API_KEY)")
	inspectCmd.PersistentFlags().StringVar(&region, "region", "us", "API region (us, eu, apj)")

	inspectChatCmd.Flags().StringVar(&chatPrompt, "prompt", "", "user prompt to inspect")
	inspectChatCmd.Flags().StringVar(&chatResponse, "response", "", "model response to inspect")

	inspectHTTPCmd.Flags().StringVar(&httpURL, "url", "", "target URL of the inspected request")
	inspectHTTPCmd.Flags().StringVar(&httpMethod, "method", http.MethodPost, "HTTP method of the inspected request")
	inspectHTTPCmd.Flags().StringVar(&httpBody, "body", "", "request body to inspect")

	inspectCmd.AddCommand(inspectChatCmd)
	inspectCmd.AddCommand(inspectHTTPCmd)
	rootCmd.AddCommand(inspectCmd)
}
