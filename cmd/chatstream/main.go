package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	clay "github.com/go-go-golems/clay/pkg"
	glazed_cmds "github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatstream/cmd/chatstream/cmds"
)

var rootCmd = &cobra.Command{
	Use:   "chatstream",
	Short: "chatstream streams chat completions from a completion backend",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.InitLoggerFromCobra(cmd)
	},
}

func main() {
	if err := clay.InitGlazed("chatstream", rootCmd); err != nil {
		cobra.CheckErr(err)
	}

	helpSystem := help.NewHelpSystem()
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	sendCmd, err := cmds.NewSendCommand()
	cobra.CheckErr(err)
	healthCmd, err := cmds.NewHealthCommand()
	cobra.CheckErr(err)
	chatCmd, err := cmds.NewChatCommand()
	cobra.CheckErr(err)
	serveCmd, err := cmds.NewServeCommand()
	cobra.CheckErr(err)
	countCmd, err := cmds.NewCountTokensCommand()
	cobra.CheckErr(err)

	for _, c := range []glazed_cmds.Command{sendCmd, healthCmd, chatCmd, serveCmd, countCmd} {
		command, err := cmds.BuildCobraCommand(c)
		cobra.CheckErr(err)
		rootCmd.AddCommand(command)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
