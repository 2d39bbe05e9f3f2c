package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/evahq/evamem/pkg/memory"
)

func newChatCommand() *cobra.Command {
	var (
		userID      string
		deviceID    string
		showContext bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive REPL that records turns and assembles context",
		Long: strings.TrimSpace(`Record conversation turns into the short-term buffer and watch the
assembled context evolve. Slash commands inspect engine state:
  /context    show the context that would precede the next turn
  /summary    show the rolling conversation summary
  /memories   list long-term records
  /compress   run a compression job now
  /clear      wipe the short-term buffer`),
		Example: "  evamem chat --user alice --show-context",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(true, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return chatLoop(a, userID, deviceID, showContext)
		},
	}

	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id")
	cmd.Flags().StringVarP(&deviceID, "device", "d", "cli", "Device id recorded on turns")
	cmd.Flags().BoolVar(&showContext, "show-context", false, "Print the assembled context after each turn")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func chatLoop(a *app, userID, deviceID string, showContext bool) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("%s You: ", appName),
		HistoryFile:     filepath.Join(os.TempDir(), ".evamem_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	fmt.Printf("%s Interactive mode (Ctrl+C to exit)\n\n", appName)

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Println("\nGoodbye!")
				return nil
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		ctx := context.Background()
		if strings.HasPrefix(input, "/") {
			if err := chatCommand(ctx, a, userID, input); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			continue
		}

		if _, err := a.svc.AppendTurn(ctx, userID, deviceID, memory.RoleUser, input); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}

		fragments, err := a.svc.BuildContext(ctx, userID, input, 0)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		if showContext {
			printFragments(fragments)
		}

		reply := fmt.Sprintf("noted (context: %s)", describeFragments(fragments))
		if _, err := a.svc.AppendTurn(ctx, userID, deviceID, memory.RoleAssistant, reply); err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\n%s %s\n\n", appName, reply)
	}
}

func chatCommand(ctx context.Context, a *app, userID, input string) error {
	switch strings.Fields(input)[0] {
	case "/context":
		fragments, err := a.svc.BuildContext(ctx, userID, strings.TrimSpace(strings.TrimPrefix(input, "/context")), 0)
		if err != nil {
			return err
		}
		printFragments(fragments)
	case "/summary":
		summary, err := a.svc.GetSummary(ctx, userID)
		if err != nil {
			return err
		}
		if summary == "" {
			fmt.Println("No summary yet; run /compress first.")
			return nil
		}
		fmt.Println(summary)
	case "/memories":
		records, err := a.svc.ListMemories(ctx, userID, "", 0)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No long-term memories yet.")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("  [%s/%d] %s\n", rec.Category, rec.Importance, rec.Content)
		}
	case "/compress":
		job, err := a.svc.RequestCompression(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %d entries compressed into %d records\n",
			len(job.CandidateIDs), len(job.ResultRecordIDs))
	case "/clear":
		if err := a.svc.ClearContext(ctx, userID); err != nil {
			return err
		}
		fmt.Println("✓ Short-term buffer cleared")
	default:
		fmt.Println("Commands: /context /summary /memories /compress /clear")
	}
	return nil
}

func printFragments(fragments []memory.Fragment) {
	if len(fragments) == 0 {
		fmt.Println("  (empty context)")
		return
	}
	for _, f := range fragments {
		fmt.Printf("  [%s] %s\n", f.Provenance, f.Text)
	}
}

func describeFragments(fragments []memory.Fragment) string {
	facts, turns, size := 0, 0, 0
	for _, f := range fragments {
		if f.Provenance == memory.ProvenanceLongTerm {
			facts++
		} else {
			turns++
		}
		size += f.Size
	}
	return fmt.Sprintf("%d facts, %d turns, %d chars", facts, turns, size)
}
