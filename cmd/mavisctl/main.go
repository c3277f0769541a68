// mavisctl drives the chat backend directly for scripting: login, roster
// and history inspection, one-shot sends. It shares config and stored
// identity with the TUI but takes no profile lock and keeps no outbox.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jonahfitia/mobile-app-mavis-chat/internal/config"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/odoo"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/rpc"
	"github.com/jonahfitia/mobile-app-mavis-chat/internal/session"
	"go.uber.org/zap"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot load %s: %v\n", session.ConfigPath(), err)
		os.Exit(1)
	}
	backend := odoo.NewClient(rpc.New(cfg.ServerURL, zap.NewNop()), zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "login":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: mavisctl login <login>")
			os.Exit(1)
		}
		cmdLogin(ctx, backend, cfg, profile, args[1], *jsonFlag)
	case "logout":
		cmdLogout(profile)
	case "whoami":
		cmdWhoami(ctx, backend, profile, *jsonFlag)
	case "roster":
		cmdRoster(ctx, backend, profile, *jsonFlag)
	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: mavisctl history <uuid> [limit]")
			os.Exit(1)
		}
		limit := cfg.HistoryLimit
		if len(args) >= 3 {
			if n, err := strconv.Atoi(args[2]); err == nil && n > 0 {
				limit = n
			}
		}
		cmdHistory(ctx, backend, profile, args[1], limit, *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: mavisctl send <uuid> <text>")
			os.Exit(1)
		}
		cmdSend(ctx, backend, profile, args[1], strings.Join(args[2:], " "), *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: mavisctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  login <login>           Authenticate (password read from stdin)")
	fmt.Fprintln(os.Stderr, "  logout                  Drop the stored session")
	fmt.Fprintln(os.Stderr, "  whoami                  Show the stored identity")
	fmt.Fprintln(os.Stderr, "  roster                  List conversations")
	fmt.Fprintln(os.Stderr, "  history <uuid> [limit]  Show recent messages of a conversation")
	fmt.Fprintln(os.Stderr, "  send <uuid> <text>      Post a message")
}

// restore binds the stored session to the transport and returns the viewer.
func restore(profile string, backend *odoo.Client) *session.User {
	u, err := session.LoadUser(profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v (run: mavisctl login <login>)\n", err)
		os.Exit(1)
	}
	backend.Transport().SetSession(u.SessionID)
	return u
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdLogin(ctx context.Context, backend *odoo.Client, cfg *config.Config, profile, login string, jsonOut bool) {
	fmt.Fprint(os.Stderr, "Password: ")
	password, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fail(err)
	}
	password = strings.TrimRight(password, "\r\n")

	res, token, err := backend.Authenticate(ctx, cfg.Database, login, password)
	if err != nil {
		fail(err)
	}
	backend.Transport().SetSession(token)

	u := &session.User{UID: res.UID, Name: res.Name, SessionID: token, Context: res.Context}
	if info, err := backend.GetSessionInfo(ctx); err == nil {
		u.PartnerID = info.PartnerID
	}
	if err := session.SaveUser(profile, u); err != nil {
		fail(err)
	}

	if jsonOut {
		outputJSON(map[string]any{"uid": u.UID, "name": u.Name, "partner_id": u.PartnerID})
		return
	}
	fmt.Printf("Logged in as %s (uid %d)\n", u.Name, u.UID)
}

func cmdLogout(profile string) {
	if err := session.ClearUser(profile); err != nil {
		fail(err)
	}
	fmt.Println("Logged out.")
}

func cmdWhoami(ctx context.Context, backend *odoo.Client, profile string, jsonOut bool) {
	u := restore(profile, backend)
	info, err := backend.GetSessionInfo(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(info)
		return
	}
	fmt.Printf("Name:    %s\n", info.Name)
	fmt.Printf("UID:     %d\n", info.UID)
	fmt.Printf("Partner: %d\n", info.PartnerID)
	fmt.Printf("Profile: %s (last seen %s)\n", profile, u.LastSeen.Format(time.RFC3339))
}

func cmdRoster(ctx context.Context, backend *odoo.Client, profile string, jsonOut bool) {
	restore(profile, backend)
	discussions, err := backend.Discussions(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(discussions)
		return
	}
	if len(discussions) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, d := range discussions {
		unread := ""
		if d.UnreadCount > 0 {
			unread = fmt.Sprintf(" (%d unread)", d.UnreadCount)
		}
		fmt.Printf("%-36s %-12s %s%s\n", d.UUID, d.ConversationType, d.Name, unread)
	}
}

func cmdHistory(ctx context.Context, backend *odoo.Client, profile, uuid string, limit int, jsonOut bool) {
	u := restore(profile, backend)
	msgs, err := backend.ChatHistory(ctx, uuid, limit, u.PartnerID)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(msgs)
		return
	}
	for _, m := range msgs {
		author := m.Author
		if m.IsMine {
			author = "You"
		}
		fmt.Printf("[%s] %s: %s\n", m.Time, author, m.Text)
		for _, att := range m.Attachments {
			fmt.Printf("    attachment: %s %s\n", att.Name, att.URL)
		}
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
	}
}

func cmdSend(ctx context.Context, backend *odoo.Client, profile, uuid, text string, jsonOut bool) {
	restore(profile, backend)
	id, err := backend.ChatPost(ctx, uuid, text)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(map[string]any{"message_id": id})
		return
	}
	fmt.Printf("Sent, message id %d\n", id)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
