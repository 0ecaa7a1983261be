// ticketwatch is a terminal client for the ticket server. It restores the
// saved session (or logs in), loads the visible tickets and then prints
// every notification, ticket update and comment pushed over the socket
// until interrupted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"ticketflow/internal/client"
	"ticketflow/internal/hub"
	"ticketflow/internal/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		serverURL string
		tokenFile string
		email     string
		password  string
		logLevel  string
		logout    bool
	)

	flagSet := pflag.NewFlagSet("ticketwatch", pflag.ContinueOnError)
	flagSet.StringVar(&serverURL, "server", "http://localhost:3000", "ticket server base URL")
	flagSet.StringVar(&tokenFile, "token-file", "", "where the session token is kept (default: user config dir)")
	flagSet.StringVarP(&email, "email", "e", "", "log in with this email when no saved session is usable")
	flagSet.StringVar(&password, "password", "", "password for --email (default: $TICKETWATCH_PASSWORD)")
	flagSet.StringVar(&logLevel, "log-level", "warn", "log level")
	flagSet.BoolVar(&logout, "logout", false, "forget the saved session and exit")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	if tokenFile == "" {
		path, err := client.DefaultTokenPath()
		if err != nil {
			return err
		}
		tokenFile = path
	}
	if password == "" {
		password = os.Getenv("TICKETWATCH_PASSWORD")
	}

	log := logger.New(logger.Options{Level: logLevel, Pretty: true, Output: os.Stderr})

	session := client.NewSession(client.Config{
		ServerURL: serverURL,
		Tokens:    client.FileTokenStore{Path: tokenFile},
		Logger:    log,
		OnNotification: func(n hub.Notification) {
			fmt.Printf("[notificación] %s: %s\n", n.Title, n.Message)
		},
		OnTicketUpdate: func(u hub.TicketUpdate) {
			fmt.Printf("[ticket %s] %v\n", u.TicketID, u.Fields)
		},
		OnComment: func(c hub.NewComment) {
			fmt.Printf("[comentario %s] %s\n", c.TicketID, c.Comment.Message)
		},
	})

	if logout {
		return session.Logout()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	user, err := session.Bootstrap(ctx)
	if errors.Is(err, client.ErrNoSession) {
		if email == "" || password == "" {
			return errors.New("no saved session; pass --email and --password")
		}
		user, err = session.Login(ctx, email, password)
	}
	if err != nil {
		if user.ID == "" {
			return err
		}
		log.Warn().Err(err).Msg("realtime unavailable, retrying in background")
	}

	fmt.Printf("conectado como %s (%s)\n", user.Name, user.Role)

	tickets, err := session.LoadTickets(ctx)
	if err != nil {
		return err
	}
	for _, t := range tickets {
		fmt.Printf("%-8s %-12s %-6s %s\n", t.Number, t.Status, t.Priority, t.Title)
	}

	err = session.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, client.ErrNoSession) {
		return errors.New("session ended by the server; log in again")
	}
	return err
}
