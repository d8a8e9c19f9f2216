package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"walog"
	"walog/internal/config"
)

// openFromFlags loads config from v (already populated from the command's
// bound flags) and opens the log it describes.
func openFromFlags(cmd *cobra.Command, v *viper.Viper, logger *slog.Logger) (*walog.Log, error) {
	cfg, err := config.Load(v, ".")
	if err != nil {
		return nil, err
	}
	return walog.Open(cmd.Context(), cfg.RootDir, cfg.ChunkSize, cfg.MaxChunks, walog.WithLogger(logger))
}

func newPushCommand(v *viper.Viper, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "push <payload>",
		Short: "Append a payload to the log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openFromFlags(cmd, v, logger)
			if err != nil {
				return err
			}
			defer l.Close(cmd.Context())

			idx, err := l.Push(cmd.Context(), []byte(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed index %d\n", idx)
			return nil
		},
	}
}

func newPopCommand(v *viper.Viper, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "pop",
		Short: "Pop the next unread entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openFromFlags(cmd, v, logger)
			if err != nil {
				return err
			}
			defer l.Close(cmd.Context())

			idx, payload, ok, err := l.Pop(cmd.Context())
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d: %s\n", idx, payload)
			return nil
		},
	}
}

func newAckCommand(v *viper.Viper, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "ack",
		Short: "Advance the ack watermark to the current read position",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openFromFlags(cmd, v, logger)
			if err != nil {
				return err
			}
			defer l.Close(cmd.Context())
			return l.Ack(cmd.Context())
		},
	}
}

func newRevertCommand(v *viper.Viper, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "revert",
		Short: "Reset the read cursor to the ack watermark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openFromFlags(cmd, v, logger)
			if err != nil {
				return err
			}
			defer l.Close(cmd.Context())
			return l.Revert(cmd.Context())
		},
	}
}

func newStatCommand(v *viper.Viper, logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print a snapshot of the log's current state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := openFromFlags(cmd, v, logger)
			if err != nil {
				return err
			}
			defer l.Close(cmd.Context())

			s := l.Stat()
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "root_dir:       %s\n", s.RootDir)
			fmt.Fprintf(w, "open_chunks:    %d\n", s.OpenChunks)
			fmt.Fprintf(w, "oldest_chunk:   %d\n", s.OldestChunk)
			fmt.Fprintf(w, "newest_chunk:   %d\n", s.NewestChunk)
			fmt.Fprintf(w, "read_active_id: %d\n", s.ReadActiveID)
			fmt.Fprintf(w, "next_index:     %d\n", s.NextIndex)
			return nil
		},
	}
}
