package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/attachd/internal/config"
)

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

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// fileRecord mirrors the fields of the API response this CLI displays.
type fileRecord struct {
	ID               string `json:"id"`
	ConversationID   string `json:"conversation_id"`
	OriginalFilename string `json:"original_filename"`
	Category         string `json:"category"`
	SizeFormatted    string `json:"size_formatted"`
	StatusText       string `json:"status_text"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

// --- files ---

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Inspect stored files",
}

var filesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List files in a conversation",
	RunE: func(cmd *cobra.Command, args []string) error {
		conversation, _ := cmd.Flags().GetString("conversation")
		if conversation == "" {
			return fmt.Errorf("--conversation is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/conversations/%s/files", url.PathEscape(conversation))
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var files []fileRecord
		if err := decodeJSON(resp, &files); err != nil {
			return err
		}

		if len(files) == 0 {
			fmt.Println("No files found.")
			return nil
		}

		for _, f := range files {
			status := f.StatusText
			if f.FailureReason != "" {
				status = fmt.Sprintf("%s (%s)", status, f.FailureReason)
			}
			fmt.Printf("%s  %-10s  %-8s  %s  %s\n",
				colorize(colorCyan, f.ID[:8]),
				f.Category,
				f.SizeFormatted,
				status,
				f.OriginalFilename,
			)
		}
		return nil
	},
}

var filesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single file record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/files/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var file any
		if err := decodeJSON(resp, &file); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(file)
	},
}

var filesReprocessCmd = &cobra.Command{
	Use:   "reprocess <id>",
	Short: "Queue a file for extraction again",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/files/%s/reprocess", url.PathEscape(args[0]))
		resp, err := client.postJSON(cmd.Context(), path, nil)
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("File %s queued for reprocessing", args[0])
		return nil
	},
}

func init() {
	filesListCmd.Flags().String("conversation", "", "conversation id to list files for")
	filesCmd.AddCommand(filesListCmd)
	filesCmd.AddCommand(filesShowCmd)
	filesCmd.AddCommand(filesReprocessCmd)
}

// --- upload ---

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a file to a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conversation, _ := cmd.Flags().GetString("conversation")
		if conversation == "" {
			return fmt.Errorf("--conversation is required")
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/api/conversations/%s/files", url.PathEscape(conversation))
		resp, err := client.uploadFile(cmd.Context(), path, args[0], data)
		if err != nil {
			return err
		}

		var file fileRecord
		if err := decodeJSON(resp, &file); err != nil {
			return err
		}

		printSuccess("Uploaded %s as %s", file.OriginalFilename, file.ID)
		return nil
	},
}

func init() {
	uploadCmd.Flags().String("conversation", "", "conversation id to attach the file to")
}
