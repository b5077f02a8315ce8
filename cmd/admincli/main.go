// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	apiconnect "github.com/osa030/voicebox/internal/api/connect"
)

var (
	app    = kingpin.New("voicebox-admincli", "voicebox admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// sessions command
	sessionsCmd = app.Command("sessions", "List active sessions").Alias("list")

	// skip command
	skipCmd   = app.Command("skip", "Skip the current track of a guild")
	skipGuild = skipCmd.Arg("guild-id", "Guild ID").Required().String()

	// stop command
	stopCmd   = app.Command("stop", "Stop the session of a guild")
	stopGuild = stopCmd.Arg("guild-id", "Guild ID").Required().String()

	// clear command
	clearCmd   = app.Command("clear", "Clear the queue of a guild")
	clearGuild = clearCmd.Arg("guild-id", "Guild ID").Required().String()

	// watch command
	watchCmd = app.Command("watch", "Stream session notices")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	ctx := context.Background()

	switch command {
	case sessionsCmd.FullCommand():
		listSessions(ctx)
	case skipCmd.FullCommand():
		guildCall(ctx, apiconnect.SkipProcedure, *skipGuild)
	case stopCmd.FullCommand():
		guildCall(ctx, apiconnect.StopProcedure, *stopGuild)
	case clearCmd.FullCommand():
		guildCall(ctx, apiconnect.ClearProcedure, *clearGuild)
	case watchCmd.FullCommand():
		watch(ctx)
	}
}

func listSessions(ctx context.Context) {
	client := connect.NewClient[emptypb.Empty, structpb.Struct](http.DefaultClient, *server+apiconnect.ListSessionsProcedure)
	req := connect.NewRequest(&emptypb.Empty{})
	req.Header().Set(apiconnect.AdminTokenHeader, *token)
	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	sessions, _ := resp.Msg.AsMap()["sessions"].([]any)
	fmt.Printf("Sessions (%d):\n", len(sessions))
	for _, raw := range sessions {
		s, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		fmt.Printf("  guild %v: %v (voice: %v, queued: %v)\n", s["guild_id"], s["state"], s["channel_id"], s["queue_length"])
		if cur, ok := s["current"].(map[string]any); ok {
			fmt.Printf("    Now playing: %v (requested by %v)\n", cur["title"], cur["requester"])
		}
		queue, _ := s["queue"].([]any)
		for i, q := range queue {
			if t, ok := q.(map[string]any); ok {
				fmt.Printf("    %d. %v\n", i+1, t["title"])
			}
		}
	}
}

func guildCall(ctx context.Context, procedure, guildID string) {
	client := connect.NewClient[wrapperspb.StringValue, structpb.Struct](http.DefaultClient, *server+procedure)
	req := connect.NewRequest(wrapperspb.String(guildID))
	req.Header().Set(apiconnect.AdminTokenHeader, *token)
	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	for k, v := range resp.Msg.AsMap() {
		fmt.Printf("%s: %v\n", k, v)
	}
}

func watch(ctx context.Context) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := connect.NewClient[emptypb.Empty, structpb.Struct](http.DefaultClient, *server+apiconnect.WatchNoticesProcedure)
	req := connect.NewRequest(&emptypb.Empty{})
	req.Header().Set(apiconnect.AdminTokenHeader, *token)
	stream, err := client.CallServerStream(ctx, req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer stream.Close()

	for stream.Receive() {
		n := stream.Msg().AsMap()
		switch n["type"] {
		case "sessions":
			sessions, _ := n["sessions"].([]any)
			fmt.Printf("[initial] %d active session(s)\n", len(sessions))
		default:
			title := ""
			if t, ok := n["track"].(map[string]any); ok {
				title = fmt.Sprint(t["title"])
			}
			fmt.Printf("[%v] #%v guild=%v %s %s\n", n["time"], n["seq"], n["guild_id"], n["type"], title)
			if e, ok := n["error"]; ok {
				fmt.Printf("    error: %v\n", e)
			}
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
