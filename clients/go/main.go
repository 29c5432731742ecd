// teamchat CLI - command line client for the teamchat API
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/teamchat/clients/go/teamchat"
	"github.com/eldtechnologies/teamchat/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := teamchat.NewClient(os.Getenv("TEAMCHAT_URL"), os.Getenv("TEAMCHAT_TOKEN"))
	ctx := context.Background()
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health(ctx)
		exitOnError(err)
		printJSON(resp)

	case "read":
		conv := conversationArg(3)
		resp, err := client.ListMessages(ctx, conv, 20, "")
		exitOnError(err)
		for _, msg := range resp.Messages {
			printMessage(msg)
		}
		if resp.HasMore {
			fmt.Printf("(older messages: before=%s)\n", resp.NextBefore)
		}

	case "post":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: teamchat post <team|user> <id> <message>")
			os.Exit(1)
		}
		msg, err := client.SendMessage(ctx, conversationArg(3), os.Args[4], "")
		exitOnError(err)
		fmt.Printf("Posted: %s\n", msg.ID)

	case "stats":
		stats, err := client.Stats(ctx, conversationArg(3))
		exitOnError(err)
		printJSON(stats)

	case "delete":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: teamchat delete <message_id>")
			os.Exit(1)
		}
		exitOnError(client.DeleteMessage(ctx, os.Args[2]))
		fmt.Printf("Deleted: %s\n", os.Args[2])

	case "users":
		users, err := client.MessageableUsers(ctx)
		exitOnError(err)
		for _, u := range users {
			fmt.Printf("  %s  %s\n", u.ID, u.DisplayName)
		}

	case "conversations":
		convs, err := client.Conversations(ctx)
		exitOnError(err)
		for _, c := range convs {
			fmt.Printf("  %s  %-20s %3d unread  %s\n", c.User.ID, c.User.DisplayName, c.UnreadCount, c.LastMessage.Text)
		}

	case "who":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: teamchat who <user_id>")
			os.Exit(1)
		}
		id, err := uuid.Parse(os.Args[2])
		exitOnError(err)
		resp, err := client.GetUser(ctx, id)
		exitOnError(err)
		printJSON(resp)

	case "watch":
		actor, err := uuid.Parse(os.Getenv("TEAMCHAT_USER"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "watch needs TEAMCHAT_USER set to your user id")
			os.Exit(1)
		}
		watch(ctx, client, actor, conversationArg(3))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// watch prints new messages of conv until interrupted.
func watch(ctx context.Context, client *teamchat.Client, actor uuid.UUID, conv teamchat.Conversation) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seen := make(map[string]bool)
	p := teamchat.NewPoller(client, actor, teamchat.Handlers{
		OnMessages: func(_ teamchat.Conversation, msgs []models.DecodedMessage) {
			for _, msg := range msgs {
				if !seen[msg.ID] {
					seen[msg.ID] = true
					printMessage(msg)
				}
			}
		},
		OnError: func(err error) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		},
	}, teamchat.DefaultPollInterval)

	if err := p.Open(ctx, conv); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	<-ctx.Done()
	p.Close()
}

// conversationArg parses "<team|user> <id>" starting at os.Args[n-1].
func conversationArg(n int) teamchat.Conversation {
	if len(os.Args) < n+1 {
		fmt.Fprintf(os.Stderr, "Usage: teamchat %s <team|user> <id>\n", os.Args[1])
		os.Exit(1)
	}
	id, err := uuid.Parse(os.Args[n])
	exitOnError(err)

	switch os.Args[n-1] {
	case "team":
		return teamchat.Team(id)
	case "user":
		return teamchat.Direct(id)
	default:
		fmt.Fprintf(os.Stderr, "Unknown conversation kind: %s\n", os.Args[n-1])
		os.Exit(1)
	}
	return teamchat.Conversation{}
}

func printMessage(msg models.DecodedMessage) {
	ts := msg.CreatedAt.Local().Format(time.DateTime)
	from := msg.Sender.Name
	if from == "" {
		from = msg.Sender.ID.String()[:8]
	}
	fmt.Printf("[%s] %s: %s\n", ts, from, msg.Text)
	if msg.Attachment != "" {
		fmt.Printf("    file: %s\n", msg.Attachment)
	}
}

func usage() {
	fmt.Println(`teamchat CLI - team and direct messaging

Usage: teamchat <command> [options]

Commands:
  read <team|user> <id>            Read the latest messages
  post <team|user> <id> <message>  Send a message
  watch <team|user> <id>           Follow a conversation and mark it read
  stats <team|user> <id>           Show message counts
  delete <message_id>              Delete a message you sent
  users                            List users you can message
  conversations                    List your direct conversations
  who <user_id>                    Get a user's profile
  health                           Check server health

Environment:
  TEAMCHAT_URL    Server URL (default: http://localhost:8080)
  TEAMCHAT_TOKEN  Bearer token (see cmd/token)
  TEAMCHAT_USER   Your user id (watch only)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
