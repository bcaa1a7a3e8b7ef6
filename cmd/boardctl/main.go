// boardctl は掲示板サーバーのコマンドラインクライアント
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/tasukuchiba/message_board/internal/client"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	baseURL := os.Getenv("BOARD_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	keyPath := keyFile()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := os.Args[1]
	switch cmd {
	case "keygen":
		if _, err := os.Stat(keyPath); err == nil {
			exitOnError(fmt.Errorf("key already exists at %s", keyPath))
		}
		key, err := client.GenerateKey()
		exitOnError(err)
		exitOnError(client.SaveKey(keyPath, key))
		fmt.Printf("Identity: %s\n", client.New(baseURL, key).Identity())

	case "whoami":
		c := signingClient(baseURL, keyPath)
		fmt.Println(c.Identity())

	case "post":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: boardctl post <text>")
			os.Exit(1)
		}
		id, err := signingClient(baseURL, keyPath).Post(ctx, os.Args[2])
		exitOnError(err)
		fmt.Printf("Posted: %d\n", id)

	case "delete":
		id := messageID()
		exitOnError(signingClient(baseURL, keyPath).Delete(ctx, id))
		fmt.Printf("Deleted: %d\n", id)

	case "get":
		msg, err := client.New(baseURL, nil).Get(ctx, messageID())
		exitOnError(err)
		printMessage(msg)

	case "list":
		exitOnError(list(ctx, client.New(baseURL, nil)))

	case "count":
		n, err := client.New(baseURL, nil).Count(ctx)
		exitOnError(err)
		fmt.Println(n)

	case "watch":
		c := client.New(baseURL, nil)
		exitOnError(list(ctx, c))
		err := c.Watch(ctx, func() {
			fmt.Println("---")
			if err := list(ctx, c); err != nil {
				fmt.Fprintln(os.Stderr, "Error:", err)
			}
		})
		if !errors.Is(err, context.Canceled) {
			exitOnError(err)
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
	fmt.Println(`boardctl - public message board client

Usage: boardctl <command> [options]

Commands:
  keygen          Generate a signing key
  whoami          Print your identity
  post <text>     Post a message
  delete <id>     Delete one of your messages
  get <id>        Show a single message
  list            List all messages
  count           Print the number of messages
  watch           List messages and refresh on every change

Environment:
  BOARD_URL     Server URL (default: http://localhost:8080)
  BOARD_KEY     Private key file (default: ~/.board/private.key)`)
}

func keyFile() string {
	if path := os.Getenv("BOARD_KEY"); path != "" {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".board", "private.key")
}

func signingClient(baseURL, keyPath string) *client.Client {
	key, err := client.LoadKey(keyPath)
	if err != nil {
		exitOnError(fmt.Errorf("load key (run `boardctl keygen` first): %w", err))
	}
	return client.New(baseURL, key)
}

func messageID() uint64 {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "Usage: boardctl %s <id>\n", os.Args[1])
		os.Exit(1)
	}
	id, err := strconv.ParseUint(os.Args[2], 10, 64)
	if err != nil {
		exitOnError(fmt.Errorf("invalid message id %q", os.Args[2]))
	}
	return id
}

func list(ctx context.Context, c *client.Client) error {
	messages, count, err := c.List(ctx)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		printMessage(msg)
	}
	fmt.Printf("(%d messages)\n", count)
	return nil
}

func printMessage(msg client.Message) {
	ts := time.Unix(msg.Timestamp, 0).Format("2006-01-02 15:04:05")
	author := msg.Author
	if len(author) > 8 {
		author = author[:8]
	}
	fmt.Printf("#%d [%s] %s: %s\n", msg.ID, ts, author, msg.Text)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
