// chatrelay CLI - command line client for a chatrelay server
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/eldtechnologies/chatrelay/clients/go/relay"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := relay.NewClient(os.Getenv("CHATRELAY_URL"), os.Getenv("CHATRELAY_TOKEN"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "servers":
		servers, err := client.ListServers()
		exitOnError(err)
		for _, s := range servers {
			fmt.Printf("  %s  %s\n", s.ID, s.Name)
		}

	case "channels":
		serverID := relay.DefaultServerID
		if len(os.Args) > 2 {
			serverID = os.Args[2]
		}
		channels, err := client.ServerChannels(serverID)
		exitOnError(err)
		for _, ch := range channels {
			fmt.Printf("  %s  %s (%s)\n", ch.ID, ch.Name, ch.Type)
		}

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatrelay read <channel_id>")
			os.Exit(1)
		}
		resp, err := client.GetMessages(os.Args[2], 20, 0)
		exitOnError(err)
		for i := len(resp.Messages) - 1; i >= 0; i-- {
			msg := resp.Messages[i]
			ts := time.UnixMilli(msg.CreatedAt).Format("2006-01-02 15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.AuthorID, msg.Content)
		}

	case "dm":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: chatrelay dm <user_id> <target_user_id>")
			os.Exit(1)
		}
		ch, err := client.DMChannel(os.Args[2], os.Args[3])
		exitOnError(err)
		printJSON(ch)

	case "post":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "Usage: chatrelay post <channel_id> <sender_id> <message>")
			os.Exit(1)
		}
		post(client, relay.SendMessage{
			ChannelID: os.Args[2],
			SenderID:  os.Args[3],
			Message:   os.Args[4],
		})

	case "listen":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: chatrelay listen <channel_id> [entity_id]")
			os.Exit(1)
		}
		entityID := ""
		if len(os.Args) > 3 {
			entityID = os.Args[3]
		}
		listen(client, os.Args[2], entityID)

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// post sends one message and waits for its acknowledgement.
func post(client *relay.Client, m relay.SendMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, err := client.Dial(ctx)
	exitOnError(err)
	defer conn.Close()

	exitOnError(conn.Send(m))
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				exitOnError(conn.Err())
				return
			}
			switch ev.Name {
			case "messageAck":
				fmt.Println(string(ev.Data))
				return
			case "messageError":
				exitOnError(fmt.Errorf("%s", ev.Data))
			}
		case <-ctx.Done():
			exitOnError(ctx.Err())
		}
	}
}

// listen prints a channel's broadcasts until interrupted.
func listen(client *relay.Client, channelID, entityID string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, err := client.Dial(ctx)
	exitOnError(err)
	defer conn.Close()

	exitOnError(conn.Join(channelID, entityID))
	for {
		select {
		case ev, ok := <-conn.Events():
			if !ok {
				exitOnError(conn.Err())
				return
			}
			fmt.Printf("%s %s\n", ev.Name, ev.Data)
		case <-ctx.Done():
			return
		}
	}
}

func usage() {
	fmt.Println(`chatrelay CLI

Usage: chatrelay <command> [options]

Commands:
  servers                              List message servers
  channels [server_id]                 List channels of a server
  read <channel_id>                    Read recent messages
  dm <user_id> <target_user_id>        Find or create a DM channel
  post <channel_id> <sender> <text>    Send a message through the gateway
  listen <channel_id> [entity_id]      Stream a channel's events
  health                               Check server health

Environment:
  CHATRELAY_URL     Server URL (default: http://localhost:3000)
  CHATRELAY_TOKEN   SERVER_AUTH_TOKEN of the server, if set`)
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
