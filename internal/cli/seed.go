package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"trivia-room-service/internal/config"
	"trivia-room-service/internal/infra/memory"
	"trivia-room-service/internal/infra/postgres"
)

// NewSeedBankCmd copies the YAML question bank into Postgres.
func NewSeedBankCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed-bank",
		Short: "Load the YAML question bank into Postgres",
		RunE: func(cmd *cobra.Command, args []string) error {
			return seedBank(cmd.Context(), *configPath, file)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "question bank YAML, defaults to generator.bank_file")
	return cmd
}

func seedBank(ctx context.Context, configPath, file string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if file == "" {
		file = cfg.Generator.BankFile
	}
	if file == "" {
		return fmt.Errorf("no question bank file configured")
	}
	if err := runMigrationsWithConfig(ctx, cfg); err != nil {
		return err
	}

	bank, err := memory.LoadBankFile(file)
	if err != nil {
		return err
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	n, err := postgres.NewBankLoader(pool).SeedBank(ctx, bank.Banks())
	if err != nil {
		return err
	}
	log.Printf("seed: stored %d questions from %s", n, file)
	return nil
}
