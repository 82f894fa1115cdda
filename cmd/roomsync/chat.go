package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomsync/internal/binding"
	"github.com/vovakirdan/roomsync/internal/config"
	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/identity"
	"github.com/vovakirdan/roomsync/internal/room"
	"github.com/vovakirdan/roomsync/internal/session"
	"github.com/vovakirdan/roomsync/internal/transport/ws"
)

type chatOptions struct {
	id    core.Identity
	token string
	url   string
	echo  bool
}

func newChatCmd(root *rootOptions) *cobra.Command {
	opts := &chatOptions{}
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the room and chat from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load(true)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{RelayURL: opts.url, EchoSelf: opts.echo})
			return runChat(cmd.Context(), cfg, opts, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
	cmd.Flags().StringVar(&opts.id.ID, "id", "", "participant id")
	cmd.Flags().StringVar(&opts.id.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&opts.id.AvatarRef, "avatar", "", "avatar reference")
	cmd.Flags().StringVar(&opts.token, "token", "", "session token (overrides --id)")
	cmd.Flags().StringVar(&opts.url, "url", "", "relay WebSocket url")
	cmd.Flags().BoolVar(&opts.echo, "echo", false, "ask the relay to echo own messages")
	return cmd
}

// signer is the part of an identity provider the terminal can drive.
type signer interface {
	identity.Provider
	signOut()
	signIn(arg string) error
}

type staticSigner struct {
	*identity.Static
	last core.Identity
}

func (s *staticSigner) signOut() { s.Set(nil) }

func (s *staticSigner) signIn(arg string) error {
	id := s.last
	if arg != "" {
		id = core.Identity{ID: arg}
	}
	if id.ID == "" {
		return errors.New("usage: /login <id>")
	}
	s.last = id
	s.Set(&id)
	return nil
}

type tokenSigner struct {
	*identity.Token
}

func (t *tokenSigner) signOut() { t.Revoke() }

func (t *tokenSigner) signIn(arg string) error {
	if arg == "" {
		return errors.New("usage: /login <token>")
	}
	return t.Refresh(arg)
}

func runChat(ctx context.Context, cfg config.Config, opts *chatOptions, in io.Reader, out io.Writer, logger *zerolog.Logger) error {
	var provider signer
	dialer := &ws.Dialer{URL: cfg.RelayURL, Self: cfg.EchoSelf, Logger: logger}
	if opts.token != "" {
		tc := cfg.Token()
		if tc == nil {
			return errors.New("--token needs jwt_secret to be configured")
		}
		tp := &tokenSigner{identity.NewToken(tc, opts.token)}
		dialer.Token = tp.Raw
		provider = tp
	} else {
		if opts.id.ID == "" {
			return errors.New("either --id or --token is required")
		}
		provider = &staticSigner{Static: identity.NewStatic(&opts.id), last: opts.id}
	}

	p := &printer{out: out}
	manager := session.NewManager(provider, logger)
	ctrl := room.New(room.Config{
		Room:      cfg.Room,
		Transport: dialer,
		Observer:  p,
		Logger:    logger,
	})
	ctrl.Attach(ctx, manager)
	manager.Start(ctx)
	defer func() {
		ctrl.Detach()
		manager.Stop()
	}()

	p.printf("joined %s as %s; /who, /logout, /login, /quit\n", cfg.Room, describe(manager.Current()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(ctx, line, ctrl, provider, p); quit {
				return nil
			}
		}
	}
}

func handleLine(ctx context.Context, line string, ctrl *room.Controller, provider signer, p *printer) bool {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "/quit":
		return true
	case "/who":
		keys := ctrl.Online()
		p.printf("%d user(s) online: %s [%s]\n", len(keys), strings.Join(keys, ", "), ctrl.Condition())
	case "/logout":
		provider.signOut()
	case "/login":
		if err := provider.signIn(strings.TrimSpace(arg)); err != nil {
			p.printf("login: %v\n", err)
		}
	default:
		if _, ok := ctrl.Send(ctx, line); !ok && strings.TrimSpace(line) != "" {
			p.printf("not sent (%s)\n", ctrl.Condition())
		}
	}
	return false
}

func describe(s core.Session) string {
	if !s.Valid() {
		return "nobody (signed out)"
	}
	return s.Identity.DisplayName
}

// printer renders room changes to the terminal.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

func (p *printer) MessageAppended(m core.ChatMessage) {
	p.printf("[%s] %s: %s\n", m.SentAt.Local().Format("15:04:05"), m.SenderName, m.Text)
}

func (p *printer) PresenceChanged(keys []string) {
	p.printf("* %d user(s) online\n", len(keys))
}

func (p *printer) StateChanged(state binding.State, cond binding.Condition) {
	switch state {
	case binding.Announced:
		p.printf("* connected\n")
	case binding.Closed:
		p.printf("* %s\n", cond)
	case binding.Subscribed:
		if cond == binding.ConditionDegraded {
			p.printf("* connected, presence unavailable\n")
		}
	}
}
