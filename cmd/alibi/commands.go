package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/alibi/internal/config"
	"github.com/kalambet/alibi/internal/excuse"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type excuseRecord struct {
	ID             string `json:"id"`
	Text           string `json:"text"`
	Scenario       string `json:"scenario"`
	Language       string `json:"language"`
	Believability  int    `json:"believability"`
	CreatedAt      string `json:"created_at"`
	EffectiveCount int    `json:"effective_count"`
	FeedbackCount  int    `json:"feedback_count"`
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <scenario>",
	Short: "Generate an excuse",
	Long: `Generate an excuse for a scenario.

Scenarios: ` + strings.Join(excuse.Scenarios(), ", ") + `

Examples:
  alibi generate "late for work" --recipient boss --urgency high
  alibi generate missed_deadline --language fr --believability 8`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		recipient, _ := cmd.Flags().GetString("recipient")
		urgency, _ := cmd.Flags().GetString("urgency")
		believability, _ := cmd.Flags().GetInt("believability")
		language, _ := cmd.Flags().GetString("language")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/generate", map[string]any{
			"scenario":      strings.Join(args, " "),
			"user_role":     role,
			"recipient":     recipient,
			"urgency":       urgency,
			"believability": believability,
			"language":      language,
		})
		if err != nil {
			return err
		}

		var result struct {
			Excuse   string `json:"excuse"`
			ExcuseID string `json:"excuse_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Excuse)
		printStatus("ID", "%s", colorize(colorCyan, result.ExcuseID))
		return nil
	},
}

func init() {
	generateCmd.Flags().String("role", "", "who is making the excuse")
	generateCmd.Flags().String("recipient", "", "who the excuse is for")
	generateCmd.Flags().String("urgency", "medium", "low, medium or high")
	generateCmd.Flags().Int("believability", 5, "1 to 10")
	generateCmd.Flags().String("language", "en", "language code")
}

// --- proof ---

var proofCmd = &cobra.Command{
	Use:   "proof <excuse-id>",
	Short: "Generate a proof artifact for an excuse",
	Long: `Generate a proof artifact for an excuse and download it.

Types: doctor_note (PDF), chat_screenshot (PNG), location_log (JSON).`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, _ := cmd.Flags().GetString("type")
		outDir, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/generate_proof/"+url.PathEscape(args[0]), map[string]any{"proof_type": kind})
		if err != nil {
			return err
		}
		var result struct {
			ProofURL string `json:"proof_url"`
			Name     string `json:"name"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if outDir == "" {
			printSuccess("Proof ready at %s%s", client.baseURL, result.ProofURL)
			return nil
		}
		dest := filepath.Join(outDir, path.Base(result.Name))
		if err := downloadTo(cmd, client, result.ProofURL, dest); err != nil {
			return err
		}
		printSuccess("Saved %s", dest)
		return nil
	},
}

func init() {
	proofCmd.Flags().String("type", "doctor_note", "proof type")
	proofCmd.Flags().StringP("output", "o", "", "directory to download the artifact into")
}

func downloadTo(cmd *cobra.Command, client *apiClient, urlPath, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("creating %s: %w", dest, err)
	}
	if _, err := client.download(cmd.Context(), urlPath, f); err != nil {
		f.Close()
		os.Remove(dest)
		return err
	}
	return f.Close()
}

// --- speak ---

var speakCmd = &cobra.Command{
	Use:   "speak <excuse-id>",
	Short: "Synthesize an excuse as MP3",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		language, _ := cmd.Flags().GetString("language")
		outDir, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/speak_excuse", map[string]any{
			"excuse_id": args[0],
			"excuse":    text,
			"language":  language,
		})
		if err != nil {
			return err
		}
		var result struct {
			Name     string `json:"name"`
			AudioURL string `json:"audio_url"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if outDir == "" {
			printSuccess("Audio ready at %s%s", client.baseURL, result.AudioURL)
			return nil
		}
		dest := filepath.Join(outDir, path.Base(result.Name))
		if err := downloadTo(cmd, client, result.AudioURL, dest); err != nil {
			return err
		}
		printSuccess("Saved %s", dest)
		return nil
	},
}

func init() {
	speakCmd.Flags().String("text", "", "text to speak instead of the stored excuse")
	speakCmd.Flags().String("language", "", "language code (default: the excuse's language)")
	speakCmd.Flags().StringP("output", "o", "", "directory to download the audio into")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback <excuse-id> <worked|failed>",
	Short: "Record whether an excuse worked",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		effective, err := parseVerdict(args[1])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/excuses/"+url.PathEscape(args[0])+"/feedback", map[string]any{"effective": effective})
		if err != nil {
			return err
		}
		var result struct {
			EffectiveCount int     `json:"effective_count"`
			FeedbackCount  int     `json:"feedback_count"`
			Effectiveness  float64 `json:"effectiveness"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Feedback recorded (%d/%d effective, %.0f%%)",
			result.EffectiveCount, result.FeedbackCount, result.Effectiveness*100)
		return nil
	},
}

func parseVerdict(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "worked", "yes", "true", "effective", "y":
		return true, nil
	case "failed", "no", "false", "ineffective", "n":
		return false, nil
	}
	return false, fmt.Errorf("verdict must be worked or failed, got %q", s)
}

// --- insights ---

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Show excuse insights for this server session",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/insights")
		if err != nil {
			return err
		}

		var ins struct {
			TotalExcuses int `json:"total_excuses"`
			TopExcuses   []struct {
				Text          string  `json:"text"`
				Effectiveness float64 `json:"effectiveness"`
				FeedbackCount int     `json:"feedback_count"`
			} `json:"top_excuses"`
			TopScenarios []struct {
				Scenario string `json:"scenario"`
				Count    int    `json:"count"`
			} `json:"top_scenarios"`
			Prediction string `json:"prediction"`
		}
		if err := decodeJSON(resp, &ins); err != nil {
			return err
		}
		if asJSON {
			return printJSON(ins)
		}

		printStatus("Excuses", "%d", ins.TotalExcuses)
		if len(ins.TopExcuses) > 0 {
			fmt.Println(colorize(colorBold, "\nMost effective"))
			for i, e := range ins.TopExcuses {
				fmt.Printf("  %d. [%3.0f%% of %d] %s\n", i+1, e.Effectiveness*100, e.FeedbackCount, truncate(e.Text, 80))
			}
		}
		if len(ins.TopScenarios) > 0 {
			fmt.Println(colorize(colorBold, "\nScenarios"))
			for _, s := range ins.TopScenarios {
				fmt.Printf("  %-20s %d\n", excuse.Title(s.Scenario), s.Count)
			}
		}
		fmt.Println()
		fmt.Println(ins.Prediction)
		return nil
	},
}

func init() {
	insightsCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- saved ---

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved excuses",
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved excuses, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/saved")
		if err != nil {
			return err
		}

		var result struct {
			Excuses []struct {
				ID       string `json:"id"`
				Text     string `json:"text"`
				Scenario string `json:"scenario"`
				SavedAt  string `json:"saved_at"`
			} `json:"excuses"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Excuses) == 0 {
			fmt.Println("No saved excuses.")
			return nil
		}
		for _, s := range result.Excuses {
			fmt.Printf("%s  %-18s %s\n",
				colorize(colorCyan, shortID(s.ID)),
				s.Scenario,
				truncate(s.Text, 80),
			)
		}
		return nil
	},
}

var savedAddCmd = &cobra.Command{
	Use:   "add [excuse-id]",
	Short: "Save a generated excuse, or free text with --text",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		scenario, _ := cmd.Flags().GetString("scenario")
		if len(args) == 0 && text == "" {
			return fmt.Errorf("an excuse id or --text is required")
		}

		body := map[string]any{"text": text, "scenario": scenario}
		if len(args) == 1 {
			body["excuse_id"] = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/saved", body)
		if err != nil {
			return err
		}
		var result struct {
			Saved struct {
				ID string `json:"id"`
			} `json:"saved"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Saved as %s", result.Saved.ID)
		return nil
	},
}

var savedDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved excuse",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/saved/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	savedAddCmd.Flags().String("text", "", "excuse text to save")
	savedAddCmd.Flags().String("scenario", "", "scenario of the excuse")
	savedCmd.AddCommand(savedListCmd, savedAddCmd, savedDeleteCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived excuses across server runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/history?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var result struct {
			Total   int            `json:"total"`
			Excuses []excuseRecord `json:"excuses"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if len(result.Excuses) == 0 {
			fmt.Println("No archived excuses.")
			return nil
		}
		for _, e := range result.Excuses {
			fmt.Printf("%s  %s  %-18s %d/%d  %s\n",
				colorize(colorCyan, shortID(e.ID)),
				e.CreatedAt,
				e.Scenario,
				e.EffectiveCount, e.FeedbackCount,
				truncate(e.Text, 60),
			)
		}
		printStatus("Total", "%d", result.Total)
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of excuses to list")
	historyCmd.Flags().Int("offset", 0, "number of excuses to skip")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		printStatus("Config file", "%s", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		if key == "provider.api_token" {
			value = "(set)"
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
