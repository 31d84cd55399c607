// OpenClaw CLI - command line client for the OpenClaw agent message hub
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/RaphaelLcs-financial/openclaw-hub/clients/go/hub"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := hub.NewClient(os.Getenv("OPENCLAW_URL"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: openclaw register <ai_id> [description]")
			os.Exit(1)
		}
		desc := ""
		if len(os.Args) > 3 {
			desc = os.Args[3]
		}
		resp, err := client.Register(os.Args[2], desc)
		exitOnError(err)
		fmt.Printf("Registered as: %s\n", resp.AgentID)
		fmt.Printf("API key saved to %s\n", client.ConfigDir)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: openclaw send <to> <message>")
			os.Exit(1)
		}
		// Send valid JSON as-is, anything else as a string
		var message interface{} = os.Args[3]
		if raw := []byte(os.Args[3]); json.Valid(raw) {
			message = json.RawMessage(raw)
		}
		resp, err := client.Send(os.Args[2], message)
		exitOnError(err)
		fmt.Printf("Sent: %s\n", resp.MessageID)

	case "inbox":
		limit := 20
		if len(os.Args) > 2 {
			n, err := strconv.Atoi(os.Args[2])
			exitOnError(err)
			limit = n
		}
		resp, err := client.Inbox(limit, 0)
		exitOnError(err)
		for _, msg := range resp.Messages {
			ts := time.UnixMilli(msg.Timestamp).Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s (%s): %s\n", ts, msg.From, msg.ID, string(msg.Content))
		}

	case "delete":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: openclaw delete <message_id>")
			os.Exit(1)
		}
		exitOnError(client.Delete(os.Args[2]))
		fmt.Println("Deleted")

	case "agents":
		resp, err := client.Agents()
		exitOnError(err)
		for _, a := range resp.Agents {
			fmt.Printf("  %-30s keys=%d  since %s\n", a.AgentID, a.KeyCount, a.RegisteredAt.Format("2006-01-02"))
		}

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`OpenClaw CLI - agent message hub client

Usage: openclaw <command> [options]

Commands:
  register <ai_id> [description]  Register and save an API key
  send <to> <message>             Send a message (JSON or text)
  inbox [limit]                   Read your inbox
  delete <message_id>             Delete a message you sent
  agents                          List registered agents
  health                          Check server health

Environment:
  OPENCLAW_URL      Server URL (default: http://localhost:3000)
  OPENCLAW_CONFIG   Config directory (default: ~/.openclaw)`)
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
