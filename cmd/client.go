package cmd

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/lucsky/cuid"
	"github.com/pion/webrtc/v3"
	"github.com/spf13/cobra"

	"github.com/cryptagon/meetmesh/pkg/mesh"
	"github.com/cryptagon/meetmesh/pkg/session"
	"github.com/cryptagon/meetmesh/pkg/signal"
	"github.com/cryptagon/meetmesh/pkg/types"
)

var (
	clientURL   string
	clientRoom  string
	clientLink  string
	clientToken string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "host or join a meetmesh session from the terminal",
	RunE:  clientMain,
}

func init() {
	clientCmd.PersistentFlags().StringVarP(&clientURL, "url", "u", "", "relay to connect to")
	clientCmd.PersistentFlags().StringVarP(&clientRoom, "room", "r", "", "room id to join (hosts a new room when empty)")
	clientCmd.PersistentFlags().StringVarP(&clientLink, "link", "l", "", "share link to join")
	clientCmd.PersistentFlags().StringVarP(&clientToken, "token", "t", "", "jwt access token")

	rootCmd.AddCommand(clientCmd)
}

func rtcConfiguration() webrtc.Configuration {
	servers := conf.Client.ICEServers
	if len(servers) == 0 {
		servers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: servers}},
	}
}

func clientMain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if clientURL == "" {
		clientURL = conf.Client.URL
	}
	if clientURL == "" {
		clientURL = "ws://localhost:7000"
	}
	if clientToken == "" {
		clientToken = conf.Client.Token
	}

	localID := cuid.New()
	sig := signal.NewClient(ctx, clientURL, localID)
	if clientToken != "" {
		sig.SetToken(clientToken)
	}

	rtcConf := rtcConfiguration()
	m := mesh.NewManager(localID, sig, func() (mesh.Transport, error) {
		return mesh.NewRTCTransport(rtcConf)
	})

	coord := session.New(session.Config{
		LocalID:          localID,
		LinkBase:         conf.Client.LinkBase,
		OperationTimeout: time.Duration(conf.Session.OperationTimeoutSec) * time.Second,
		CursorInterval:   time.Duration(conf.Session.CursorIntervalMs) * time.Millisecond,
	}, sig, m)

	coord.SetNotesUpdateHandler(func(blocks []types.Block) {
		fmt.Printf("notes updated: %d blocks\n", len(blocks))
		for _, b := range blocks {
			fmt.Printf("  [%s] %s\n", b.ID, b.Content)
		}
	})

	roomID := clientRoom
	if clientLink != "" {
		parsed, ok := session.ParseSessionLink(clientLink)
		if !ok {
			return fmt.Errorf("invalid share link %q", clientLink)
		}
		roomID = parsed
	}

	if roomID == "" {
		created, err := coord.CreateSession(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("hosting room %s\n", created)
		fmt.Printf("share link: %s\n", coord.ShareLink())
	} else {
		if err := coord.JoinSession(ctx, roomID); err != nil {
			return err
		}
		fmt.Printf("joined room %s as %s\n", roomID, localID)
	}

	sigs := make(chan os.Signal, 1)
	ossignal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			peers := coord.Peers()
			fmt.Printf("peers: %d\n", len(peers))
			for _, p := range peers {
				fmt.Printf("  %s (%s)\n", p.ID, p.State)
			}
		case s := <-sigs:
			log.Info("got signal, leaving session", "signal", s.String())
			if err := coord.LeaveSession(ctx); err != nil {
				log.Error(err, "error leaving session")
			}
			return sig.Close()
		}
	}
}
