package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"dialog-rag/internal/chat"
	"dialog-rag/internal/chromemdb"
	"dialog-rag/internal/config"
	"dialog-rag/internal/db"
	"dialog-rag/internal/helper"
	"dialog-rag/internal/models"
)

const configFilePath = "./configs/config.yaml"

var (
	configPath string
	cfg        *config.Config
	logCloser  io.Closer
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "dialog-rag",
		Short:         "Conversational assistant answering from a local document corpus",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			logCloser, err = helper.SetupLogger(cfg.Log)
			if err != nil {
				return err
			}
			log.Debug().Interface("config", cfg).Msg("Loaded config")
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configFilePath, "path to config.yaml")

	rootCmd.AddCommand(buildCmd(), askCmd(), chatCmd(), exportCmd(), importCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
	if logCloser != nil {
		_ = logCloser.Close()
	}
}

func selectModes(name string) ([]config.ModeConfig, error) {
	if name != "" {
		m, err := cfg.Mode(name)
		if err != nil {
			return nil, err
		}
		return []config.ModeConfig{m}, nil
	}
	var modes []config.ModeConfig
	for _, m := range cfg.Modes {
		if !m.Enabled {
			continue
		}
		resolved, err := cfg.Mode(m.Name)
		if err != nil {
			return nil, err
		}
		modes = append(modes, resolved)
	}
	return modes, nil
}

func buildCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build the vector index of every enabled mode, or of --mode",
		RunE: func(cmd *cobra.Command, args []string) error {
			modes, err := selectModes(mode)
			if err != nil {
				return err
			}
			embedder, err := chat.NewEmbedder(cfg)
			if err != nil {
				return err
			}
			for _, m := range modes {
				idx, err := chat.OpenIndex(cmd.Context(), cfg, m, embedder)
				if err != nil {
					return fmt.Errorf("mode %s: %w", m.Name, err)
				}
				log.Info().Str("mode", m.Name).Int("chunks", idx.Count()).Msg("Index ready")
				helper.PrettyPrint(idx.Manifest())
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "mode to build")
	return cmd
}

func openStore(ctx context.Context) (db.Store, *chat.Handler, error) {
	store, err := db.NewStore(ctx, &cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return store, chat.NewHandler(cfg, store, chat.NewFactory(cfg, store)), nil
}

func printReply(text string) error {
	_, err := fmt.Fprintln(os.Stdout, text)
	return err
}

func askCmd() *cobra.Command {
	var (
		userID   int64
		question string
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question inside the user's dialog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if question == "" {
				question = strings.Join(args, " ")
			}
			if strings.TrimSpace(question) == "" {
				return fmt.Errorf("%w: a question is required", models.ErrInvalidArgument)
			}
			ctx := cmd.Context()
			store, handler, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := handler.Warm(ctx); err != nil {
				return err
			}

			if _, err := store.RegisterUser(ctx, models.User{ID: userID, FullName: "cli"}); err != nil {
				return err
			}
			state, err := store.GetState(ctx, userID)
			if err != nil {
				return err
			}
			if state != models.StateInDialog {
				if err := store.StartDialog(ctx, userID); err != nil {
					return err
				}
			}
			return handler.Handle(ctx, chat.Message{UserID: userID, Text: question}, printReply)
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user id")
	cmd.Flags().StringVar(&question, "question", "", "question to ask")
	return cmd
}

func chatCmd() *cobra.Command {
	var (
		userID int64
		name   string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the assistant from the terminal, one message per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, handler, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := handler.Warm(ctx); err != nil {
				return err
			}

			login := os.Getenv("USER")
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				msg := chat.Message{UserID: userID, FullName: name, Login: login, Text: scanner.Text()}
				if err := handler.Handle(ctx, msg, printReply); err != nil {
					log.Error().Err(err).Int64("user_id", userID).Msg("Failed to handle message")
				}
				if ctx.Err() != nil {
					return nil
				}
			}
			return scanner.Err()
		},
	}
	cmd.Flags().Int64Var(&userID, "user", 1, "user id")
	cmd.Flags().StringVar(&name, "name", "friend", "display name")
	return cmd
}

func exportCmd() *cobra.Command {
	var (
		mode     string
		file     string
		compress bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a mode's index to a single file",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := cfg.Mode(orDefault(mode))
			if err != nil {
				return err
			}
			embedder, err := chat.NewEmbedder(cfg)
			if err != nil {
				return err
			}
			idx, err := chat.OpenIndex(cmd.Context(), cfg, m, embedder)
			if err != nil {
				return err
			}
			if err := idx.Export(file, compress, cfg.RAG.EncryptionKey); err != nil {
				return err
			}
			log.Info().Str("mode", m.Name).Str("file", file).Msg("Exported index")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "mode to export (default mode when empty)")
	cmd.Flags().StringVar(&file, "file", "", "export file")
	cmd.Flags().BoolVar(&compress, "compress", true, "gzip the export")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func importCmd() *cobra.Command {
	var (
		mode string
		file string
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace a mode's index with an exported file",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := cfg.Mode(orDefault(mode))
			if err != nil {
				return err
			}
			embedder, err := chat.NewEmbedder(cfg)
			if err != nil {
				return err
			}
			idx, err := chromemdb.Import(chat.IndexOptions(cfg, m), embedder, file, cfg.RAG.EncryptionKey)
			if err != nil {
				return err
			}
			log.Info().Str("mode", m.Name).Int("chunks", idx.Count()).Msg("Imported index")
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "mode to import into (default mode when empty)")
	cmd.Flags().StringVar(&file, "file", "", "file written by export")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func orDefault(mode string) string {
	if mode == "" {
		return cfg.DefaultMode
	}
	return mode
}
