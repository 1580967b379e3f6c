package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"streamchat/internal/client"
	"streamchat/internal/model"
	"streamchat/internal/view"
)

func main() {
	server := flag.String("server", "http://localhost:8080", "gateway base URL")
	user := flag.String("user", "", "user id")
	flag.Parse()

	if *user == "" {
		log.Fatal("missing required flag: -user")
	}

	cli := client.New(*server, *user)
	conv := view.NewConversation(*user, cli, cli, cli, cli, cli)
	defer conv.Close()

	ctx := context.Background()
	if err := conv.Start(ctx); err != nil {
		log.Fatalf("start failed: %v", err)
	}

	fmt.Printf("connected to %s as %s (agent: %s)\n", *server, *user, conv.AgentID())
	fmt.Println("commands: /agents /agent <id> /history /stop /clear /delete /quit")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := runCommand(ctx, conv, cli, line); quit {
				return
			}
			continue
		}

		if err := conv.Send(ctx, line); err != nil {
			fmt.Printf("send failed: %v\n", err)
			continue
		}
		renderReply(conv)
	}
}

func runCommand(ctx context.Context, conv *view.Conversation, cli *client.Client, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit":
		return true
	case "/agents":
		agents, err := cli.ListAgents(ctx)
		if err != nil {
			fmt.Printf("list agents failed: %v\n", err)
			return false
		}
		for _, a := range agents {
			marker := " "
			if a.ID == conv.AgentID() {
				marker = "*"
			}
			fmt.Printf("%s %s (%s)\n", marker, a.ID, a.Name)
		}
	case "/agent":
		if len(fields) < 2 {
			fmt.Println("usage: /agent <id>")
			return false
		}
		if err := conv.SelectAgent(ctx, fields[1]); err != nil {
			fmt.Printf("select agent failed: %v\n", err)
			return false
		}
		fmt.Printf("agent: %s\n", fields[1])
	case "/history":
		if err := conv.LoadHistory(ctx, 50); err != nil {
			fmt.Printf("load history failed: %v\n", err)
			return false
		}
		for _, m := range conv.Messages() {
			fmt.Printf("[%s] %s\n", m.Role, m.Text)
		}
	case "/stop":
		conv.Stop()
	case "/clear":
		conv.Clear()
	case "/delete":
		if err := conv.DeleteSession(ctx); err != nil {
			fmt.Printf("delete session failed: %v\n", err)
		}
	default:
		fmt.Printf("unknown command: %s\n", fields[0])
	}
	return false
}

// renderReply prints the agent reply as it streams in, giving up
// after a quiet timeout so a stalled stream never wedges the prompt.
func renderReply(conv *view.Conversation) {
	deadline := time.Now().Add(2 * time.Minute)
	printed := 0
	for time.Now().Before(deadline) {
		messages := conv.Messages()
		if len(messages) == 0 {
			return
		}
		tail := messages[len(messages)-1]
		if tail.Role == model.RoleAgent {
			fmt.Print(tail.Text[min(printed, len(tail.Text)):])
			printed = len(tail.Text)
		} else if tail.Role == model.RoleSystem {
			fmt.Printf("! %s\n", tail.Text)
			return
		}
		if tail.Role == model.RoleAgent && !tail.Partial && !conv.Streaming() {
			fmt.Println()
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	fmt.Println("\n(reply timed out)")
}
