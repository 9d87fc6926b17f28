package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mbocsi/carelink/proto"
	"github.com/mbocsi/carelink/server"
)

var errGuestRejected = errors.New("guest sessions are not allowed")

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a development relay that realtime clients can connect to",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rc := cfg.Relay
		opts := []server.Option{
			server.WithMaxSessions(rc.MaxSessions),
			server.WithAuthTimeout(rc.AuthTimeout),
			server.WithFrameHandler(func(id string, frame []byte) {
				slog.Info("Frame from client", "session", id, "frame", string(frame))
			}),
		}
		if !rc.AllowGuests {
			opts = append(opts, server.WithAuthenticator(func(token string) error {
				if token == "" || token == proto.GuestToken {
					return errGuestRejected
				}
				return nil
			}))
		}
		relay := server.NewRelay(rc.Addr, opts...)

		if rc.Advertise {
			adv, err := server.Advertise(rc.Addr, rc.Secure)
			if err != nil {
				return err
			}
			defer adv.Shutdown()
			slog.Info("Advertising relay over mDNS", "service", server.ServiceType)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- relay.Start() }()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			return err
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return relay.Shutdown(shutdownCtx)
	},
}

var pushURL string

var pushCmd = &cobra.Command{
	Use:   "push <frame-json>",
	Short: "Push a raw frame to every session of a relay",
	Example: `  carelink push '{"type":"alert","content":"Fall detected in room 12"}'
  carelink push --relay http://10.0.0.5:8080 '{"type":"update","entity":"patient"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var out struct {
			Delivered int    `json:"delivered"`
			Code      string `json:"code"`
			Message   string `json:"message"`
		}
		resp, err := resty.New().R().
			SetContext(cmd.Context()).
			SetHeader("Content-Type", "application/json").
			SetBody(args[0]).
			SetResult(&out).
			SetError(&out).
			Post(pushURL + "/push")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("push rejected (%d): %s", resp.StatusCode(), out.Message)
		}
		cmd.Printf("delivered to %d session(s)\n", out.Delivered)
		return nil
	},
}

func init() {
	relayCmd.Flags().String("addr", ":8080", "listen address")
	relayCmd.Flags().Int("max-sessions", 16, "maximum concurrent sessions (0 for unlimited)")
	relayCmd.Flags().Bool("advertise", false, "advertise the relay over mDNS")
	relayCmd.Flags().Bool("allow-guests", true, "accept sessions authenticated with the guest token")

	viper.BindPFlag("relay.addr", relayCmd.Flags().Lookup("addr"))
	viper.BindPFlag("relay.max_sessions", relayCmd.Flags().Lookup("max-sessions"))
	viper.BindPFlag("relay.advertise", relayCmd.Flags().Lookup("advertise"))
	viper.BindPFlag("relay.allow_guests", relayCmd.Flags().Lookup("allow-guests"))

	pushCmd.Flags().StringVar(&pushURL, "relay", "http://localhost:8080", "relay base URL")
}
