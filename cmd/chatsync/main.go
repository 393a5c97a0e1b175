// chatsync is a terminal client for the marketplace chat backend. It keeps
// the conversation list and the open conversation in sync with the server in
// real time and lets the user browse profiles and send messages.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/tradeline/chatsync/internal/api"
	"github.com/tradeline/chatsync/internal/auth"
	"github.com/tradeline/chatsync/internal/config"
	"github.com/tradeline/chatsync/internal/logger"
	"github.com/tradeline/chatsync/internal/pushchannel"
	"github.com/tradeline/chatsync/internal/store"
	"github.com/tradeline/chatsync/internal/syncer"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := logger.Initialize(cfg.App.LogLevel); err != nil {
		return err
	}
	defer func() { _ = logger.Log.Sync() }()

	if cfg.API.AccessToken == "" {
		return fmt.Errorf("api.access_token must be set (or CHATSYNC_API_ACCESS_TOKEN)")
	}
	ident, err := auth.ParseIdentity(cfg.API.AccessToken)
	if err != nil {
		return err
	}
	logger.Log.Info("authenticated", zap.String("user", ident.UserID))

	client := api.New(api.Options{
		BaseURL:     cfg.API.BaseURL,
		UploadsBase: cfg.API.UploadsBase,
		AccessToken: cfg.API.AccessToken,
		Timeout:     cfg.API.Timeout,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer := &pushchannel.Dialer{
		BaseURL:          cfg.Socket.BaseURL,
		Header:           http.Header{"Authorization": []string{"Bearer " + cfg.API.AccessToken}},
		HandshakeTimeout: cfg.Socket.HandshakeTimeout,
		SendQueueSize:    cfg.Socket.SendQueueSize,
		MaxReconnectWait: cfg.Socket.MaxReconnectWait,
	}

	st := store.NewConversationStore()
	s := syncer.New(syncer.Options{
		API:              client,
		Channel:          dialer.Connect(ctx, ""),
		Store:            st,
		LocalUserID:      ident.UserID,
		RefreshPerMinute: cfg.App.RefreshPerMinute,
	})
	defer s.Close()

	s.SetOnMessage(func(m api.Message) {
		fmt.Printf("\n[%s] %s: %s\n> ", m.CreatedAt.Format("15:04"), m.Sender.DisplayName(), m.Content)
	})

	if err := s.Start(ctx); err != nil {
		// The socket may still come up later; the list is retryable with the
		// "list" command, so a failed initial fetch is not fatal.
		fmt.Printf("could not load conversations: %v\n", err)
	}

	app := &app{
		cfg:     cfg,
		client:  client,
		store:   st,
		syncer:  s,
		dialer:  dialer,
		localID: ident.UserID,
	}
	app.printChats()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println("\nshutting down")
			if app.support != nil {
				app.support.Close()
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			app.handle(ctx, strings.TrimSpace(line))
		}
	}
}

// app carries the wired components for the command loop.
type app struct {
	cfg     *config.Config
	client  *api.Client
	store   *store.ConversationStore
	syncer  *syncer.Syncer
	dialer  *pushchannel.Dialer
	localID string

	support *syncer.SupportSession
}

func (a *app) handle(ctx context.Context, line string) {
	cmd, arg, _ := strings.Cut(line, " ")
	switch cmd {
	case "":
	case "list":
		if err := a.syncer.RefreshList(ctx); err != nil {
			fmt.Printf("refresh failed: %v\n", err)
			return
		}
		a.printChats()
	case "open":
		a.syncer.Open(ctx, arg)
		if c, ok := a.store.Get(arg); ok {
			if peer, ok := c.Peer(a.localID); ok {
				fmt.Printf("opened %s with %s  %s\n", arg, peer.DisplayName(), peer.AvatarURL(a.cfg.API.UploadsBase))
				return
			}
		}
		fmt.Printf("opened %s\n", arg)
	case "msgs":
		a.printMessages()
	case "send":
		if _, err := a.syncer.Send(ctx, arg, nil); err != nil {
			fmt.Printf("send failed: %v\n", err)
		}
	case "start":
		chat, err := a.syncer.StartConversation(ctx, arg)
		if err != nil {
			fmt.Printf("could not start conversation: %v\n", err)
			return
		}
		fmt.Printf("conversation %s opened\n", chat.ID)
	case "close":
		a.syncer.CloseConversation()
	case "users":
		a.printUsers(ctx)
	case "profile":
		a.printProfile(ctx, arg)
	case "support":
		a.handleSupport(ctx, arg)
	case "quit", "exit":
		_ = syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
	default:
		fmt.Println("commands: list | open <chatId> | msgs | send <text> | start <userId> | close | users | profile <userId> | support [text] | quit")
	}
}

func (a *app) printChats() {
	chats := a.store.List()
	if len(chats) == 0 {
		fmt.Println("no conversations yet")
		return
	}
	for _, c := range chats {
		peer, _ := c.Peer(a.localID)
		last := "no messages yet"
		if c.LatestMessage != nil {
			last = c.LatestMessage.Content
			if last == "" && len(c.LatestMessage.Image) > 0 {
				last = "(photo)"
			}
		}
		badge := ""
		if c.UnreadCount > 0 {
			badge = fmt.Sprintf(" [%d unread]", c.UnreadCount)
		}
		fmt.Printf("%s  %-16s %s%s\n", c.ID, peer.DisplayName(), last, badge)
	}
}

func (a *app) printMessages() {
	state, err := a.syncer.State()
	switch state {
	case syncer.StateIdle:
		fmt.Println("no conversation open")
		return
	case syncer.StateLoading:
		fmt.Println("loading messages...")
		return
	case syncer.StateError:
		fmt.Printf("could not load messages: %v (re-open to retry)\n", err)
		return
	}
	for _, m := range a.syncer.Messages() {
		body := m.Content
		for _, img := range m.Image {
			body += " " + a.client.ImageURL(img)
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), m.Sender.DisplayName(), body)
	}
}

func (a *app) printUsers(ctx context.Context) {
	users, err := a.client.ListPublicUsers(ctx)
	if err != nil {
		fmt.Printf("could not load users: %v\n", err)
		return
	}
	for _, u := range users {
		name := u.Username
		if name == "" {
			name = u.Name
		}
		fmt.Printf("%s  %s\n", u.ID, name)
	}
}

func (a *app) printProfile(ctx context.Context, userID string) {
	user, err := a.client.GetUser(ctx, userID)
	if err != nil {
		fmt.Printf("user not found or network error: %v\n", err)
		return
	}
	name := user.Username
	if name == "" {
		name = user.Name
	}
	fmt.Printf("%s <%s>", name, user.Email)
	if user.City != "" {
		fmt.Printf(" (%s)", user.City)
	}
	fmt.Println()

	products, err := a.client.ListUserProducts(ctx, userID)
	if err != nil {
		fmt.Printf("could not load products: %v\n", err)
		return
	}
	if len(products) == 0 {
		fmt.Println("no products found")
		return
	}
	for _, p := range products {
		fmt.Printf("  %s  %.2f  %s\n", p.ID, p.Price, p.Title)
	}
}

// handleSupport lazily opens the support session on first use; with an
// argument it sends, otherwise it prints the ticket.
func (a *app) handleSupport(ctx context.Context, text string) {
	if a.support == nil {
		ch := a.dialer.Connect(ctx, "support")
		a.support = syncer.NewSupportSession(a.client, ch, a.localID)
		a.support.Start(ctx)
	}

	if text != "" {
		if err := a.support.Send(ctx, text, nil); err != nil {
			fmt.Printf("support send failed: %v\n", err)
		}
		return
	}

	if a.support.Closed() {
		fmt.Println("this ticket has been closed by an admin")
	}
	for _, m := range a.support.Messages() {
		who := "admin"
		if m.Sender.ID == a.localID {
			who = "me"
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format("15:04"), who, m.Content)
	}
}
