// Command walcli is a demo CLI wrapper around the walog package.
//
// Logging:
//   - Base logger is created here from --log-level/--log-format
//   - The logger is passed down via dependency injection
//   - No global slog configuration (no slog.SetDefault)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"walog/internal/config"
)

var version = "dev"

func main() {
	v := viper.New()
	rootCmd := &cobra.Command{
		Use:   "walcli",
		Short: "Inspect and exercise a walog write-ahead log",
	}

	if err := config.BindFlags(v, rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	// Parse the persistent flags once up front so the base logger can honor
	// --log-level/--log-format before any subcommand runs. ExecuteContext
	// below parses them again as part of cobra's normal flow; re-parsing the
	// same flags is harmless.
	_ = rootCmd.ParseFlags(os.Args[1:])

	logger := slog.New(newHandler(v.GetString("log_format"), v.GetString("log_level")))

	rootCmd.AddCommand(
		newPushCommand(v, logger),
		newPopCommand(v, logger),
		newAckCommand(v, logger),
		newRevertCommand(v, logger),
		newStatCommand(v, logger),
		newVersionCommand(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

// newHandler builds the base slog handler from --log-format/--log-level.
// json selects slog.NewJSONHandler; anything else (including the default
// "text") selects slog.NewTextHandler. An unrecognized level falls back to
// info rather than failing the whole command.
func newHandler(format, level string) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if format == "json" {
		return slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.NewTextHandler(os.Stderr, opts)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
