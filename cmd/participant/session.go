package main

import (
	"encoding/json"
	"fmt"
	"os"

	"roomcast/internal/core/domain"
	"roomcast/internal/infrastructure/session"
	"roomcast/pkg/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect or update a room through the session API",
}

var sessionGetCmd = &cobra.Command{
	Use:   "get <room>",
	Short: "Print the room's status and recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, zapLogger := loadConfig()
		defer zapLogger.Sync()

		client := newSessionClient(cfg, zapLogger.Sugar())
		room, err := client.GetSession(cmd.Context(), domain.RoomID(args[0]))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(room)
	},
}

var sessionSetCmd = &cobra.Command{
	Use:   "set <room>",
	Short: "Change the room status or attach a recording URL",
	Long: `Change the room status or attach a recording URL.

Examples:
  participant session set room-1 --status ONGOING
  participant session set room-1 --recording-url https://cdn.example.com/r.webm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		recordingURL, _ := cmd.Flags().GetString("recording-url")

		update := domain.SessionUpdate{Status: domain.RoomStatus(status), RecordingURL: recordingURL}
		if update.Status == "" && update.RecordingURL == "" {
			return fmt.Errorf("nothing to update: pass --status or --recording-url")
		}
		if update.Status != "" && !update.Status.Valid() {
			return fmt.Errorf("unknown status %q", status)
		}

		cfg, zapLogger := loadConfig()
		defer zapLogger.Sync()

		client := newSessionClient(cfg, zapLogger.Sugar())
		if err := client.UpdateSession(cmd.Context(), domain.RoomID(args[0]), update); err != nil {
			return err
		}
		fmt.Println("updated")
		return nil
	},
}

func init() {
	sessionSetCmd.Flags().String("status", "", "SCHEDULED, ONGOING or COMPLETED")
	sessionSetCmd.Flags().String("recording-url", "", "recording URL to attach")
	sessionCmd.AddCommand(sessionGetCmd, sessionSetCmd)
}

func newSessionClient(cfg *config.Config, log *zap.SugaredLogger) *session.Client {
	return session.NewClient(session.Config{
		BaseURL:          cfg.SessionAPI.BaseURL,
		Token:            cfg.SessionAPI.Token,
		Timeout:          cfg.SessionAPI.Timeout,
		BreakerThreshold: cfg.SessionAPI.BreakerThreshold,
		BreakerCooldown:  cfg.SessionAPI.BreakerCooldown,
	}, log)
}
