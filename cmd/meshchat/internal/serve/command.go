package serve

import (
	"github.com/spf13/cobra"
)

func NewServeCommand() *cobra.Command {
	var opts Options

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Run a meshchat node",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveCmd(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to config file (default <data dir>/config.json)")
	cmd.Flags().IntVarP(&opts.Port, "port", "p", 0, "Listen port, overrides config")
	cmd.Flags().StringVarP(&opts.JoinToken, "join", "j", "", "Invite token of an existing node to join through")
	cmd.Flags().BoolVar(&opts.QR, "qr", false, "Render the invite token as a QR code")
	cmd.Flags().BoolVarP(&opts.Debug, "debug", "d", false, "Enable debug logging")

	return cmd
}
