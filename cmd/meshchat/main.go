package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/meshchat/cmd/meshchat/internal/chat"
	"github.com/tinyland-inc/meshchat/cmd/meshchat/internal/serve"
	"github.com/tinyland-inc/meshchat/cmd/meshchat/internal/token"
)

func NewMeshchatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "meshchat",
		Short:   "meshchat - serverless peer-to-peer messenger",
		Example: "meshchat serve --join <token>",
	}

	cmd.AddCommand(
		serve.NewServeCommand(),
		token.NewTokenCommand(),
		chat.NewChatCommand(),
	)

	return cmd
}

func main() {
	cmd := NewMeshchatCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
