package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evahq/evamem/pkg/config"
	"github.com/evahq/evamem/pkg/memory"
)

func executeCLI() error {
	return buildRootCommand().Execute()
}

func buildRootCommand() *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "evamem",
		Short: "Memory and context assembly engine for personal assistants",
		Long: strings.TrimSpace(`evamem keeps a rolling short-term conversation buffer and a durable
long-term memory store, compresses old turns into categorized facts via an
external summarizer, and assembles bounded prompt contexts from both.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion()
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newOnboardCommand())
	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newMemoryCommand())
	root.AddCommand(newCompressCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newOnboardCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "onboard",
		Short:   "Initialize ~/.evamem configuration",
		Example: "  evamem onboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return onboard()
		},
	}
}

func onboard() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("Config already exists at %s\n", configPath)
		fmt.Print("Overwrite? (y/n): ")
		reader := bufio.NewReader(os.Stdin)
		response, readErr := reader.ReadString('\n')
		if readErr != nil {
			fmt.Println("Aborted.")
			return nil
		}
		response = strings.ToLower(strings.TrimSpace(response))
		if response != "y" && response != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	if err := config.SaveConfig(configPath, cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("%s is ready!\n", appName)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Add your summarizer API key to", configPath)
	fmt.Println("  2. Record turns: evamem chat --user alice")
	fmt.Println("  3. Run the worker: evamem serve")
	fmt.Println("  4. Check readiness: evamem status")
	return nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  evamem version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion()
			return nil
		},
	}
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and runtime readiness",
		Example: "  evamem status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd()
		},
	}
}

func statusCmd() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	configPath := getConfigPath()

	fmt.Printf("%s Status\n", appName)
	fmt.Printf("Version: %s\n\n", formatVersion())

	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}

	_, cfgErr := os.Stat(configPath)
	fmt.Println("Config:", configPath, mark(cfgErr == nil))

	storePath := cfg.StorePath()
	if _, err := os.Stat(storePath); err == nil {
		fmt.Println("Store:", storePath, "✓")
	} else {
		fmt.Println("Store:", storePath, "not initialized")
	}

	apiReady := strings.TrimSpace(cfg.Summarizer.APIKey) != ""
	fmt.Printf("Summarizer model: %s\n", cfg.Summarizer.Model)
	fmt.Println("Summarizer API key:", mark(apiReady))
	fmt.Println("Compression ready:", mark(apiReady))
	return nil
}

func newCompressCommand() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:     "compress",
		Short:   "Run one compression job for a user synchronously",
		Example: "  evamem compress --user alice",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true, false)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.disp.Dispatch(cmd.Context(), "request_compression",
				map[string]interface{}{"user_id": userID})
			if err != nil {
				return err
			}
			job := result.(memory.CompressionJob)
			fmt.Printf("✓ Job %s: %d entries compressed into %d records\n",
				job.ID, len(job.CandidateIDs), len(job.ResultRecordIDs))
			return nil
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newMemoryCommand() *cobra.Command {
	memRoot := &cobra.Command{
		Use:   "memory",
		Short: "Inspect and curate long-term memory records",
	}

	var (
		userID     string
		category   string
		content    string
		importance int
		limit      int
		keywords   []string
	)

	withUser := func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
		_ = cmd.MarkFlagRequired("user")
	}

	dispatchAndPrint := func(ctx context.Context, op string, args map[string]interface{}) error {
		a, err := newApp(false, false)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.disp.Dispatch(ctx, op, args)
		if err != nil {
			return err
		}
		if result == nil {
			fmt.Println("✓ Done")
			return nil
		}
		raw, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(raw))
		return nil
	}

	list := &cobra.Command{
		Use:     "list",
		Short:   "List records by importance, optionally filtered by category",
		Example: "  evamem memory list --user alice --category preference",
		RunE: func(cmd *cobra.Command, args []string) error {
			opArgs := map[string]interface{}{"user_id": userID}
			if category != "" {
				opArgs["category"] = category
			}
			if limit > 0 {
				opArgs["limit"] = limit
			}
			return dispatchAndPrint(cmd.Context(), "list_memories", opArgs)
		},
	}
	withUser(list)
	list.Flags().StringVarP(&category, "category", "c", "", "Filter by category")
	list.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum records to return")
	memRoot.AddCommand(list)

	save := &cobra.Command{
		Use:     "save",
		Short:   "Save a manually curated record",
		Example: "  evamem memory save --user alice --category preference --importance 8 --content \"prefers dark mode\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchAndPrint(cmd.Context(), "save_memory", map[string]interface{}{
				"user_id":    userID,
				"content":    content,
				"category":   category,
				"importance": importance,
			})
		},
	}
	withUser(save)
	save.Flags().StringVarP(&content, "content", "t", "", "Record content")
	save.Flags().StringVarP(&category, "category", "c", "", "Record category")
	save.Flags().IntVarP(&importance, "importance", "i", 5, "Importance in [1,10]")
	_ = save.MarkFlagRequired("content")
	_ = save.MarkFlagRequired("category")
	memRoot.AddCommand(save)

	search := &cobra.Command{
		Use:     "search <query>",
		Short:   "Rank records against a query by relevance",
		Args:    cobra.MinimumNArgs(1),
		Example: "  evamem memory search --user alice dark mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			opArgs := map[string]interface{}{
				"user_id": userID,
				"query":   strings.Join(args, " "),
			}
			if limit > 0 {
				opArgs["limit"] = limit
			}
			return dispatchAndPrint(cmd.Context(), "search_memory", opArgs)
		},
	}
	withUser(search)
	search.Flags().IntVarP(&limit, "limit", "l", 0, "Maximum records to return")
	memRoot.AddCommand(search)

	get := &cobra.Command{
		Use:     "get <id>",
		Short:   "Fetch one record by id",
		Args:    cobra.ExactArgs(1),
		Example: "  evamem memory get --user alice 7f3c…",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchAndPrint(cmd.Context(), "get_memory", map[string]interface{}{
				"user_id": userID,
				"id":      args[0],
			})
		},
	}
	withUser(get)
	memRoot.AddCommand(get)

	del := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a record permanently",
		Args:    cobra.ExactArgs(1),
		Example: "  evamem memory delete --user alice 7f3c…",
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatchAndPrint(cmd.Context(), "delete_memory", map[string]interface{}{
				"user_id": userID,
				"id":      args[0],
			})
		},
	}
	withUser(del)
	memRoot.AddCommand(del)

	update := &cobra.Command{
		Use:     "update <id>",
		Short:   "Apply a partial update to a record",
		Args:    cobra.ExactArgs(1),
		Example: "  evamem memory update --user alice 7f3c… --importance 9",
		RunE: func(cmd *cobra.Command, args []string) error {
			opArgs := map[string]interface{}{
				"user_id": userID,
				"id":      args[0],
			}
			if cmd.Flags().Changed("content") {
				opArgs["content"] = content
			}
			if cmd.Flags().Changed("category") {
				opArgs["category"] = category
			}
			if cmd.Flags().Changed("importance") {
				opArgs["importance"] = importance
			}
			if cmd.Flags().Changed("keywords") {
				opArgs["keywords"] = keywords
			}
			return dispatchAndPrint(cmd.Context(), "update_memory", opArgs)
		},
	}
	withUser(update)
	update.Flags().StringVarP(&content, "content", "t", "", "New content")
	update.Flags().StringVarP(&category, "category", "c", "", "New category")
	update.Flags().IntVarP(&importance, "importance", "i", 0, "New importance in [1,10]")
	update.Flags().StringSliceVarP(&keywords, "keywords", "k", nil, "Replace the keyword set")
	memRoot.AddCommand(update)

	return memRoot
}
