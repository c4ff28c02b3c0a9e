package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/whatsapp-channel-adapter/internal/activity"
	"github.com/example/whatsapp-channel-adapter/internal/logger"
	waprovider "github.com/example/whatsapp-channel-adapter/internal/providers/whatsapp"
	"github.com/example/whatsapp-channel-adapter/internal/util"
)

func sendCmd() *cobra.Command {
	var (
		to       string
		text     string
		mediaURL string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one WhatsApp message",
		Long:  "Sends a single message through the configured provider, using the same conversion as bot replies.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			number, err := util.NormalizeE164(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			if strings.TrimSpace(mediaURL) != "" {
				if _, err := util.ValidateHTTPURL(mediaURL); err != nil {
					return fmt.Errorf("--media-url: %w", err)
				}
			}

			cfg, log, err := bootstrap("whatsapp-send")
			if err != nil {
				return err
			}
			adapter, err := buildAdapter(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}

			msg := activity.NewMessage(waprovider.FormatAddress(number), text)
			if mediaURL != "" {
				msg.Attachments = append(msg.Attachments, activity.Attachment{
					ContentType: "application/octet-stream",
					ContentURL:  mediaURL,
				})
			}

			responses, err := adapter.SendActivities(cmd.Context(), nil, []*activity.Activity{msg})
			if err != nil {
				return err
			}
			sendLog := logger.Component(log, "send")
			sendLog.Info().Str("to", number).Str("sid", responses[0].ID).Msg("message sent")
			fmt.Fprintln(cmd.OutOrStdout(), responses[0].ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "recipient phone number in E.164 format")
	cmd.Flags().StringVar(&text, "text", "", "message text; <b>, <i>, <s> and <code> are converted")
	cmd.Flags().StringVar(&mediaURL, "media-url", "", "public URL of a media file to attach")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
