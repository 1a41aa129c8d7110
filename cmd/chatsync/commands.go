package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/whisper/chatsync/internal/api"
	"github.com/whisper/chatsync/internal/state"
)

var loginCommand = &cli.Command{
	Name:      "login",
	Usage:     "Remember the user this client acts as",
	ArgsUsage: "USER_ID",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "username", Usage: "Display username"},
		&cli.StringFlag{Name: "nickname", Usage: "Nickname"},
	},
	Action: cmdLogin,
}

func cmdLogin(ctx *cli.Context) error {
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a user id")
	}
	u := state.User{
		ID:       ctx.Args().Get(0),
		Username: ctx.String("username"),
		Nickname: ctx.String("nickname"),
	}
	if u.Username == "" {
		u.Username = u.ID
	}
	if err := getStore(ctx).SaveUser(ctx.Context, u); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	fmt.Printf("Logged in as %s\n", u.Username)
	return nil
}

var logoutCommand = &cli.Command{
	Name:   "logout",
	Usage:  "Forget the current user",
	Action: cmdLogout,
}

func cmdLogout(ctx *cli.Context) error {
	if err := getStore(ctx).ClearUser(ctx.Context); err != nil {
		return fmt.Errorf("failed to clear user: %w", err)
	}
	fmt.Println("Logged out")
	return nil
}

var whoamiCommand = &cli.Command{
	Name:   "whoami",
	Usage:  "Show the current user and preferences",
	Action: cmdWhoami,
}

func cmdWhoami(ctx *cli.Context) error {
	u, err := requireUser(ctx)
	if err != nil {
		return err
	}
	prefs, err := getStore(ctx).Prefs(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("User ID:  %s\n", u.ID)
	fmt.Printf("Username: %s\n", u.Username)
	fmt.Printf("Language: %s\n", prefs.Language)
	fmt.Printf("Theme:    %s\n", prefs.Theme)
	return nil
}

var prefsCommand = &cli.Command{
	Name:  "prefs",
	Usage: "Change display preferences",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "language", Usage: "en or zh"},
		&cli.StringFlag{Name: "theme", Usage: "light or dark"},
		&cli.BoolFlag{Name: "watch", Usage: "Print preference changes made by other processes"},
	},
	Action: cmdPrefs,
}

func cmdPrefs(ctx *cli.Context) error {
	store := getStore(ctx)
	if ctx.IsSet("language") {
		if err := store.SetLanguage(ctx.Context, ctx.String("language")); err != nil {
			return err
		}
	}
	if ctx.IsSet("theme") {
		if err := store.SetTheme(ctx.Context, ctx.String("theme")); err != nil {
			return err
		}
	}
	prefs, err := store.Prefs(ctx.Context)
	if err != nil {
		return err
	}
	fmt.Printf("Language: %s, theme: %s\n", prefs.Language, prefs.Theme)

	if !ctx.Bool("watch") {
		return nil
	}
	fs, ok := store.(*state.FileStore)
	if !ok {
		return fmt.Errorf("--watch needs the file state backend")
	}
	watchCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
	defer stop()
	return fs.Watch(watchCtx, func(p state.Prefs) {
		fmt.Printf("Language: %s, theme: %s\n", p.Language, p.Theme)
	})
}

var friendsCommand = &cli.Command{
	Name:   "friends",
	Usage:  "List friends and pending requests",
	Action: cmdFriends,
}

func cmdFriends(ctx *cli.Context) error {
	u, err := requireUser(ctx)
	if err != nil {
		return err
	}
	client := api.NewClient(getConfig(ctx).APIClient(), getLogger(ctx))

	friends, err := client.Friends(ctx.Context, u.ID)
	if err != nil {
		return fmt.Errorf("failed to list friends: %w", err)
	}
	printFriends(friends)

	reqs, err := client.PendingRequests(ctx.Context, u.ID)
	if err != nil {
		return fmt.Errorf("failed to list requests: %w", err)
	}
	printRequests(reqs)
	return nil
}

var searchCommand = &cli.Command{
	Name:      "search",
	Usage:     "Search users by name",
	ArgsUsage: "QUERY",
	Action:    cmdSearch,
}

func cmdSearch(ctx *cli.Context) error {
	u, err := requireUser(ctx)
	if err != nil {
		return err
	}
	query := strings.TrimSpace(strings.Join(ctx.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("you must specify a query")
	}
	client := api.NewClient(getConfig(ctx).APIClient(), getLogger(ctx))
	users, err := client.SearchUsers(ctx.Context, u.ID, query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	printUsers(users)
	return nil
}

var requestCommand = &cli.Command{
	Name:      "request",
	Usage:     "Send a friend request",
	ArgsUsage: "USER_ID",
	Action:    cmdRequest,
}

func cmdRequest(ctx *cli.Context) error {
	u, err := requireUser(ctx)
	if err != nil {
		return err
	}
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a user id")
	}
	client := api.NewClient(getConfig(ctx).APIClient(), getLogger(ctx))
	if err := client.SendFriendRequest(ctx.Context, u.ID, ctx.Args().Get(0)); err != nil {
		return fmt.Errorf("friend request failed: %w", err)
	}
	fmt.Println("Friend request sent")
	return nil
}

var respondCommand = &cli.Command{
	Name:      "respond",
	Usage:     "Accept or reject a friend request",
	ArgsUsage: "REQUEST_ID",
	Flags: []cli.Flag{
		&cli.BoolFlag{Name: "reject", Usage: "Reject instead of accepting"},
	},
	Action: cmdRespond,
}

func cmdRespond(ctx *cli.Context) error {
	if _, err := requireUser(ctx); err != nil {
		return err
	}
	if ctx.NArg() == 0 {
		return fmt.Errorf("you must specify a request id")
	}
	client := api.NewClient(getConfig(ctx).APIClient(), getLogger(ctx))
	accept := !ctx.Bool("reject")
	if err := client.RespondFriendRequest(ctx.Context, ctx.Args().Get(0), accept); err != nil {
		return fmt.Errorf("failed to answer request: %w", err)
	}
	if accept {
		fmt.Println("Request accepted")
	} else {
		fmt.Println("Request rejected")
	}
	return nil
}

func printFriends(friends []api.Friend) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tONLINE\tUNREAD\tLAST")
	for _, f := range friends {
		name := f.Nickname
		if name == "" {
			name = f.Username
		}
		fmt.Fprintf(w, "%s\t%s\t%v\t%d\t%s\n", f.ID, name, f.Online, f.UnreadCount, f.LastMessage)
	}
	w.Flush()
}

func printRequests(reqs []api.FriendRequest) {
	if len(reqs) == 0 {
		return
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REQUEST\tFROM\tSINCE")
	for _, r := range reqs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.From.Username, r.CreatedAt.Format("2006-01-02"))
	}
	w.Flush()
}

func printUsers(users []api.User) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tNICKNAME")
	for _, u := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.ID, u.Username, u.Nickname)
	}
	w.Flush()
}
