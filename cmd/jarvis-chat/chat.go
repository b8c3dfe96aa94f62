package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/comigor/jarvis-chat/internal/client"
	"github.com/comigor/jarvis-chat/internal/config"
	"github.com/comigor/jarvis-chat/internal/logger"
	"github.com/comigor/jarvis-chat/internal/session"
)

func init() {
	rootCmd.AddCommand(chatCmd, historyCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat [conversation-id]",
	Short: "Chat interactively; starts a new conversation when no id is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runChat,
}

var historyCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "Print the stored messages of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, c, err := setup(cmd)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.RequestTimeout)
		defer cancel()
		msgs, err := c.List(ctx, args[0])
		if err != nil {
			return err
		}
		for _, m := range msgs {
			printMessage(cmd.OutOrStdout(), m)
		}
		return nil
	},
}

// setup loads the config and builds the backend client. Logs go to stderr so
// stdout carries only the conversation.
func setup(cmd *cobra.Command) (*config.Config, *client.Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(os.Stderr)
	logger.SetLevel(cfg.LogLevel)
	if err := cfg.ValidateClient(); err != nil {
		return nil, nil, err
	}
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Client.Token
	}
	return cfg, client.New(cfg.Client.BaseURL, token, nil), nil
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, c, err := setup(cmd)
	if err != nil {
		return err
	}
	conversationID := uuid.NewString()
	if len(args) == 1 {
		conversationID = args[0]
	}

	ctx := cmd.Context()
	s := session.New(c, c, session.OptionsFromConfig(cfg.Client))
	defer s.Close()

	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if err := s.Open(ctx, conversationID); err != nil {
		if errors.Is(err, client.ErrUnauthorized) {
			return fmt.Errorf("the server rejected the token; mint one with `jarvis-chat token`")
		}
		return fmt.Errorf("open conversation: %w", err)
	}
	fmt.Fprintf(errOut, "conversation %s (/stop interrupts a reply, /quit exits)\n", conversationID)
	for _, m := range s.Messages() {
		printMessage(out, m)
	}

	r := newRenderer(out, errOut)
	renderCtx, stopRender := context.WithCancel(ctx)
	defer stopRender()
	go func() {
		for {
			select {
			case <-renderCtx.Done():
				return
			case u := <-s.Updates():
				r.apply(u)
			}
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	var cycle *session.Cycle
	for {
		var done <-chan struct{}
		if cycle != nil {
			done = cycle.Done()
		}
		select {
		case line, ok := <-lines:
			if !ok {
				if cycle != nil {
					<-cycle.Done()
				}
				return nil
			}
			switch line {
			case "":
				continue
			case "/quit":
				return nil
			case "/stop":
				s.Stop()
				continue
			}
			next, err := s.Send(ctx, line)
			if errors.Is(err, session.ErrBusy) {
				fmt.Fprintln(errOut, "still answering; /stop to interrupt")
				continue
			}
			if err != nil {
				return err
			}
			cycle = next
		case <-done:
			if errors.Is(cycle.Err(), client.ErrUnauthorized) {
				return fmt.Errorf("the server rejected the token; mint one with `jarvis-chat token`")
			}
			cycle = nil
		case <-interrupts:
			if cycle == nil {
				return nil
			}
			s.Stop()
		}
	}
}
