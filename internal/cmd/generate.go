package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codecowboy/cowboy/internal/config"
	"github.com/codecowboy/cowboy/internal/logging"
	"github.com/codecowboy/cowboy/internal/lql"
	"github.com/codecowboy/cowboy/internal/orchestrator"
	"github.com/codecowboy/cowboy/internal/relayclient"
	"github.com/codecowboy/cowboy/internal/store"
)

var (
	genSessionName string
	genLQLFile     string
	genModels      []string
	genSamples     int
	genSearch      int
	genCriteria    []string
	genMaxTime     int
	genWait        time.Duration
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate <description>",
	Short: "Submit a generation job and wait for its result",
	Long: `Create a session, submit a code-generation request to the session
store, then wait for the completion to come back through the relay.

The relay must already be running (see "cowboy relay").

Example:
  cowboy generate "a bounded LIFO stack" --model gpt-4 --lql stack.lql`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVar(&genSessionName, "session-name", "", "Display name for the new session")
	generateCmd.Flags().StringVar(&genLQLFile, "lql", "", "LQL file formally specifying the interface")
	generateCmd.Flags().StringSliceVar(&genModels, "model", nil, "Model to generate with (repeatable)")
	generateCmd.Flags().IntVar(&genSamples, "samples", 1, "Samples per model")
	generateCmd.Flags().IntVar(&genSearch, "search", 0, "Repository search candidate count")
	generateCmd.Flags().StringSliceVar(&genCriteria, "criteria", nil, "Ranking criteria, in order")
	generateCmd.Flags().IntVar(&genMaxTime, "max-time", 0, "Time budget in minutes (default: computed minimum)")
	generateCmd.Flags().DurationVar(&genWait, "wait", 30*time.Minute, "How long to wait for the result")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	description := args[0]

	var lqlText string
	if genLQLFile != "" {
		data, err := os.ReadFile(genLQLFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", genLQLFile, err)
		}
		if res := lql.Validate(string(data)); !res.Valid {
			return fmt.Errorf("%s is not valid LQL: %s", genLQLFile, res.Errors[0])
		}
		lqlText = string(data)
	}

	models := make([]store.ModelOption, 0, len(genModels))
	for _, name := range genModels {
		models = append(models, store.ModelOption{Name: name, Samples: genSamples})
	}
	maxTime := genMaxTime
	if maxTime == 0 {
		maxTime = store.MinTimeMinutes(len(models))
	}

	client := relayclient.New(relayclient.Config{
		URL:            cfg.RelayWebSocketURL(),
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
		MaxAttempts:    cfg.Client.MaxAttempts,
		Logger:         logging.RelayClient(),
	})
	defer client.Close()

	orch := orchestrator.New(orchestrator.Config{
		Relay:     client,
		Store:     storeClient(),
		HealthURL: cfg.RelayHTTPURL() + config.DefaultAPIPrefix + "/health",
		Logger:    logging.Orchestrator(),
		OnProgress: func(ev relayclient.ProgressEvent) {
			fmt.Printf("   %s: %s\n", ev.Stage, ev.Message)
		},
	})

	ctx := context.Background()
	session, err := orch.NewSession(ctx, genSessionName)
	if err != nil {
		return err
	}
	fmt.Printf("🤠 Session %s created\n", session.ID)

	req := store.GenerationRequest{
		SessionID:   session.ID,
		Description: description,
		LQL:         lqlText,
		GenerationOptions: store.GenerationOptions{
			Models:         models,
			SearchCount:    genSearch,
			Criteria:       genCriteria,
			MaxTimeMinutes: maxTime,
		},
	}
	if err := orch.StartGeneration(ctx, req); err != nil {
		return err
	}
	fmt.Printf("🤠 Job accepted, waiting for the result (up to %s)...\n", genWait)

	deadline := time.Now().Add(genWait)
	for orch.Generating() {
		if time.Now().After(deadline) {
			orch.Abandon(session.ID)
			return fmt.Errorf("no result after %s; job abandoned locally", genWait)
		}
		time.Sleep(500 * time.Millisecond)
	}

	cur := orch.Current()
	if cur.Result == nil {
		for _, m := range cur.Messages {
			if m.IsError {
				return fmt.Errorf("generation failed: %s", m.Content)
			}
		}
		return fmt.Errorf("generation finished without a result")
	}

	fmt.Printf("🤠 %d candidate(s), highlighting #%d\n",
		len(cur.Result.Candidates), cur.Result.SelectedIndex)
	if cur.Result.BackendAnswer != "" {
		fmt.Printf("\n%s\n", cur.Result.BackendAnswer)
	}
	for i, c := range cur.Result.Candidates {
		marker := "  "
		if i == cur.Result.SelectedIndex {
			marker = "➤ "
		}
		fmt.Printf("\n%s[%d] %s (%s, score %.2f)\n", marker, i, c.ClassName, c.Model, c.Score)
		fmt.Println(c.Code)
	}
	return nil
}
