package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/keepsakehq/keepsake/internal/config"
	"github.com/keepsakehq/keepsake/internal/engine"
)

var compactTopic string

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Run a one-shot compaction pass and print the report",
	RunE:  runCompact,
}

func init() {
	compactCmd.Flags().StringVar(&compactTopic, "topic", "", "compact only this topic (default: all active topics)")
}

func runCompact(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log := newLogger()

	store, _, err := openStore(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	compactor := engine.NewCompactor(store, nil, cfg.CompactorOptions(), log)
	report, err := compactor.Compact(context.Background(), compactTopic)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
