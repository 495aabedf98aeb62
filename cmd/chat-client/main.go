// Command chat-client is a terminal client for one negotiation room.
// Lines typed on stdin are sent as messages; incoming events are printed
// as they arrive.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"

	"negochat/client"
	"negochat/domain"
	"negochat/logs"
	"negochat/ws"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL  string `env:"CHAT_SERVER_URL,default=ws://localhost:8080/ws"`
	Token      string `env:"CHAT_TOKEN,required=true"`
	CampaignID int    `env:"CHAT_CAMPAIGN_ID,default=1"`
	ProposalID int    `env:"CHAT_PROPOSAL_ID,default=1"`
	LogLevel   string `env:"LOG_LEVEL,default=warn"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.FromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	key := domain.ConversationKey{CampaignID: config.CampaignID, ProposalID: config.ProposalID}

	c := client.New(client.Options{
		URL:          config.ServerURL,
		Token:        config.Token,
		AutoMarkRead: true,
		Log:          log,
	})
	c.OnEvent(printEvent)

	if err := c.Connect(ctx); err != nil {
		return exitRuntime, fmt.Errorf("could not connect to %s: %w", config.ServerURL, err)
	}
	defer func() {
		color.Gray.Println("Closing connection...")
		_ = c.Close()
	}()

	if err := c.JoinChat(key); err != nil {
		return exitRuntime, fmt.Errorf("join failed: %w", err)
	}
	color.Green.Printf(">>> Connected to %s, conversation %s (Ctrl+C to quit)\n", config.ServerURL, key.String())

	// stdin loop; each line is one message, typing is signaled as the
	// user starts a new line.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			_ = c.Typing(key, true)
			if err := c.SendMessage(key, line, nil); err != nil {
				return exitRuntime, fmt.Errorf("send failed: %w", err)
			}
			_ = c.Typing(key, false)
		}
	}
}

func printEvent(frame ws.Frame) {
	switch frame.Type {
	case ws.EvtNewMessage:
		at := frame.Message.Timestamp
		if parsed, err := time.Parse(time.RFC3339Nano, at); err == nil {
			at = parsed.Local().Format(time.TimeOnly)
		}
		fmt.Printf("[%s] %s: %s\n", at, color.Yellow.Sprint(frame.Message.SenderID), frame.Message.Message)
		if frame.Message.FileURL != "" {
			color.Gray.Printf("        attachment: %s (%s)\n", frame.Message.FileName, frame.Message.FileURL)
		}
	case ws.EvtUserTyping:
		if frame.IsTyping {
			color.Gray.Printf("%s is typing...\n", frame.UserID)
		}
	case ws.EvtMessagesRead:
		color.Gray.Printf("%s read %d message(s)\n", frame.UserID, len(frame.MessageIDs))
	case ws.EvtUserJoined:
		color.Cyan.Printf("%s joined\n", frame.UserID)
	case ws.EvtUserLeft:
		color.Cyan.Printf("%s left\n", frame.UserID)
	case ws.EvtError:
		color.Red.Printf("error: %s\n", frame.Error)
	}
}
