package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	relay "github.com/cryptagon/meetmesh/pkg"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "start a meetmesh signaling relay node",
	RunE:  relayMain,
}

func init() {
	relayCmd.PersistentFlags().StringVarP(&conf.Relay.HTTPAddr, "addr", "a", ":7000", "http listen address")
	relayCmd.PersistentFlags().StringVar(&conf.Relay.Cert, "cert", "", "tls certificate")
	relayCmd.PersistentFlags().StringVar(&conf.Relay.Key, "key", "", "tls priv key")

	rootCmd.AddCommand(relayCmd)
}

func relayMain(cmd *cobra.Command, args []string) error {
	log.Info("--- Starting relay node ---")
	if conf.Relay.FQDN != "" {
		log.Info("public endpoint", "endpoint", conf.Endpoint())
	}

	server, sError := relay.NewServer(conf.Relay)
	go server.ServeWebsocket()

	// Listen for signals
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-sError:
		log.Error(err, "error in relay server")
		return err
	case sig := <-sigs:
		log.Info("got signal, shutting down", "signal", sig.String())
		return nil
	}
}
