package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	pairchat "github.com/pairchat/pairchat-go"
	"github.com/spf13/cobra"
)

var (
	sendFileCaption string
	sendFileMime    string
)

func init() {
	sendFileCmd.Flags().StringVar(&sendFileCaption, "caption", "", "text to send alongside the file")
	sendFileCmd.Flags().StringVar(&sendFileMime, "mime", "", "override the detected MIME type")
	rootCmd.AddCommand(sendFileCmd)
}

var sendFileCmd = &cobra.Command{
	Use:   "send-file <username> <path>",
	Short: "Send a file to a contact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := requireAuth()
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		session := pairchat.NewSession(client)
		defer session.Close()
		session.SetUser(ptr(currentUser(cfg)))
		if err := session.Refresh(ctx); err != nil {
			return fmt.Errorf("load contacts: %w", err)
		}

		peer, err := findContact(session, args[0])
		if err != nil {
			return err
		}
		if err := session.SelectPeer(ctx, peer); err != nil {
			return fmt.Errorf("open conversation: %w", err)
		}

		path := args[1]
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}

		mimeType := sendFileMime
		if mimeType == "" {
			mimeType = detectMime(path)
		}

		file := pairchat.File{
			Name:     filepath.Base(path),
			MimeType: mimeType,
			Data:     data,
		}
		if errs := session.Attachments().AddFiles(file); len(errs) > 0 {
			return errs[0]
		}

		msg, failures, err := session.SendMessage(ctx, sendFileCaption)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		for _, f := range failures {
			fmt.Printf("upload of %s failed: %v\n", f.File.Name, f.Err)
		}
		fmt.Printf("Sent %s to %s (message %s)\n", file.Name, peer.Name(), msg.ID)
		return nil
	},
}

// detectMime guesses a MIME type from the file extension.
func detectMime(path string) string {
	t := mime.TypeByExtension(filepath.Ext(path))
	if t == "" {
		return "application/octet-stream"
	}
	if idx := strings.Index(t, ";"); idx > 0 {
		t = strings.TrimSpace(t[:idx])
	}
	return t
}
