package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/historian/internal/api"
	"github.com/kalambet/historian/internal/config"
	"github.com/kalambet/historian/internal/storage"
)

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage stored references",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget every stored reference",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/references")
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Reference cache cleared")
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheClearCmd)
}

// --- access ---

var accessCmd = &cobra.Command{
	Use:   "access",
	Short: "Log in to or out of the access gate",
}

type accessState struct {
	Authenticated bool `json:"authenticated"`
	Configured    bool `json:"configured"`
}

var accessLoginCmd = &cobra.Command{
	Use:   "login [key]",
	Short: "Log in with the access key (defaults to access.key)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		key := client.token
		if len(args) == 1 {
			key = strings.TrimSpace(args[0])
		}
		if key == "" {
			return fmt.Errorf("no access key given and access.key is not set")
		}

		resp, err := client.post(cmd.Context(), "/access", map[string]string{"token": key})
		if err != nil {
			return err
		}
		var st accessState
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		if save, _ := cmd.Flags().GetBool("save"); save && key != client.token {
			if err := config.SetKey("access.key", key); err != nil {
				return err
			}
		}
		printSuccess("Logged in")
		return nil
	},
}

var accessLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored credential on the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/logout", nil)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Logged out")
		return nil
	},
}

var accessStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the configured key is accepted",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/access")
		if err != nil {
			return err
		}
		var st accessState
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}

		switch {
		case !st.Configured:
			printStatus("Access", "no access key configured on the server")
		case st.Authenticated:
			printStatus("Access", "authenticated")
		default:
			printStatus("Access", "not authenticated")
		}
		return nil
	},
}

func init() {
	accessLoginCmd.Flags().Bool("save", false, "store the key as access.key")
	accessCmd.AddCommand(accessLoginCmd, accessLogoutCmd, accessStatusCmd)
}

// --- generations ---

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "Inspect reference generation history",
}

var generationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent generation calls, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/api/generations?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}
		var gens []storage.Generation
		if err := decodeJSON(resp, &gens); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(gens) == 0 {
			fmt.Fprintln(out, "No generations recorded.")
			return nil
		}
		for _, g := range gens {
			status := colorize(colorGreen, g.Status)
			if g.Status != "succeeded" {
				status = colorize(colorRed, g.Status)
			}
			fmt.Fprintf(out, "%s  %-8s %-10s %s  %5dms  %s  %s\n",
				g.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				g.Kind, g.Intent, status, g.DurationMs,
				colorize(colorCyan, g.RecordID), g.Model,
			)
			if g.Error != "" {
				fmt.Fprintf(out, "    %s\n", truncate(g.Error, 120))
			}
		}
		return nil
	},
}

func init() {
	generationsListCmd.Flags().Int("limit", 20, "maximum number of generations to list")
	generationsListCmd.Flags().Int("offset", 0, "number of generations to skip")
	generationsCmd.AddCommand(generationsListCmd)
}

// --- data ---

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Export stored data",
}

var dataExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export timeline, learning records and references",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		format = strings.ToLower(format)
		if format != "json" && format != "yaml" {
			return fmt.Errorf("unsupported format %q (want json or yaml)", format)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/export")
		if err != nil {
			return err
		}
		var snap api.Snapshot
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		var writer io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		if err := writeSnapshot(writer, format, snap); err != nil {
			return err
		}
		if output != "" {
			printSuccess("Data exported to %s", output)
		}
		return nil
	},
}

func writeSnapshot(w io.Writer, format string, snap api.Snapshot) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

func init() {
	dataExportCmd.Flags().String("format", "json", "output format: json or yaml")
	dataExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dataCmd.AddCommand(dataExportCmd)
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

		out := cmd.OutOrStdout()
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(out, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		if config.IsSecret(key) {
			printSuccess("Stored %s in the secret store", key)
			return nil
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
