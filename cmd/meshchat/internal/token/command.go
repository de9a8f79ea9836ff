package token

import (
	"fmt"
	"os"

	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"github.com/tinyland-inc/meshchat/pkg/overlay"
)

func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect invite tokens",
	}
	cmd.AddCommand(newDecodeCommand(), newQRCommand())
	return cmd
}

func newDecodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <token>",
		Short: "Show the peer identity and address inside an invite token",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			info, err := overlay.DecodeToken(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("peer id: %d\naddress: %s\n", info.ID, info.Addr())
			return nil
		},
	}
}

func newQRCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "qr <token>",
		Short: "Render an invite token as a QR code",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if _, err := overlay.DecodeToken(args[0]); err != nil {
				return err
			}
			qrterminal.GenerateWithConfig(args[0], qrterminal.Config{
				Level:     qrterminal.L,
				Writer:    os.Stdout,
				BlackChar: qrterminal.BLACK,
				WhiteChar: qrterminal.WHITE,
				QuietZone: 1,
			})
			return nil
		},
	}
}
