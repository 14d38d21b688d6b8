package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/Rod082213/teams-clone/client"
	"github.com/Rod082213/teams-clone/models"
	"github.com/Rod082213/teams-clone/utils"
)

const help = `commands:
  /chats               list conversations
  /open <n|chat id>    open a conversation
  /new <username>      start a private chat
  /img <path> [text]   send an image
  /retry <temp id>     resend a failed message
  /delete              delete the open conversation
  /block <username>    block a user and hide your chat with them
  /unblock <username>  lift a block
  /rename <username>   change your username
  /avatar <path>       change your profile picture
  /quit
anything else is sent as a text message`

func main() {
	server := flag.String("server", "http://localhost:8081", "chat server base URL")
	username := flag.String("user", "", "username")
	password := flag.String("password", "", "password")
	register := flag.Bool("register", false, "create the account first")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	log := utils.NewLogger(*logLevel, "console")
	if *username == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -user <name> -password <password> [-register]")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	api := client.NewHTTPAPI(*server)
	login := api.Login
	if *register {
		login = api.Register
	}
	self, err := login(ctx, *username, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("sign in failed")
	}

	s := client.NewSession(self, api.Token(), api, client.DefaultPendingTimeout, log)
	defer s.Close()
	if err := s.RefreshChats(ctx); err != nil {
		log.Fatal().Err(err).Msg("could not load chats")
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(*server, "/"), "http") + "/ws"
	go func() {
		if err := s.Run(ctx, client.DialWS(wsURL), client.DefaultBackoff); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("connection loop stopped")
		}
	}()

	v := &view{s: s, api: api, printed: make(map[string]bool)}
	go v.render(ctx)

	fmt.Printf("signed in as %s\n%s\n", self.Username, help)
	v.printChats()

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		if !v.exec(ctx, strings.TrimSpace(in.Text())) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

type view struct {
	s       *client.Session
	api     *client.HTTPAPI
	mu      sync.Mutex
	printed map[string]bool
}

func (v *view) reset() {
	v.mu.Lock()
	v.printed = make(map[string]bool)
	v.mu.Unlock()
}

func (v *view) exec(ctx context.Context, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	var err error
	switch cmd {
	case "":
	case "/quit":
		return false
	case "/help":
		fmt.Println(help)
	case "/chats":
		err = v.s.RefreshChats(ctx)
		v.printChats()
	case "/open":
		err = v.open(ctx, arg)
	case "/new":
		err = v.newChat(ctx, arg)
	case "/img":
		path, caption, _ := strings.Cut(arg, " ")
		var data []byte
		if data, err = os.ReadFile(path); err == nil {
			_, err = v.s.SendImage(ctx, filepath.Base(path), data, caption)
		}
	case "/retry":
		_, err = v.s.Retry(arg)
	case "/delete":
		err = v.deleteChat(ctx)
	case "/block":
		err = v.block(ctx, arg)
	case "/unblock":
		var other models.Profile
		if other, err = v.api.Lookup(ctx, arg); err == nil {
			err = v.api.Unblock(ctx, other.ID)
		}
	case "/rename":
		_, err = v.api.UpdateProfile(ctx, arg, "", nil)
	case "/avatar":
		var data []byte
		if data, err = os.ReadFile(arg); err == nil {
			_, err = v.api.UpdateProfile(ctx, "", filepath.Base(arg), data)
		}
	default:
		_, err = v.s.SendText(line)
	}
	if err != nil {
		fmt.Println("!", err)
	}
	return true
}

func (v *view) open(ctx context.Context, arg string) error {
	chatID := arg
	if n, err := strconv.Atoi(arg); err == nil {
		chats := v.s.Chats()
		if n < 1 || n > len(chats) {
			return fmt.Errorf("no chat #%d", n)
		}
		chatID = chats[n-1].ChatID
	}
	v.reset()
	return v.s.OpenChat(ctx, chatID)
}

func (v *view) newChat(ctx context.Context, username string) error {
	other, err := v.api.Lookup(ctx, username)
	if err != nil {
		return err
	}
	chat, err := v.api.CreateChat(ctx, "", false, []string{other.ID})
	if err != nil {
		return err
	}
	v.s.AddChat(chat)
	v.reset()
	return v.s.OpenChat(ctx, chat.ID)
}

func (v *view) deleteChat(ctx context.Context) error {
	chatID := v.s.ActiveChat()
	if chatID == "" {
		return client.ErrNoActiveChat
	}
	return v.s.RemoveChat(ctx, chatID)
}

// block records the block, closes the open chat and refetches the list, which
// no longer holds the private chat with username.
func (v *view) block(ctx context.Context, username string) error {
	other, err := v.api.Lookup(ctx, username)
	if err != nil {
		return err
	}
	if err := v.api.Block(ctx, other.ID); err != nil {
		return err
	}
	if active := v.s.ActiveChat(); active != "" {
		v.s.ForgetChat(active)
		v.reset()
	}
	return v.s.RefreshChats(ctx)
}

func (v *view) printChats() {
	for i, c := range v.s.Chats() {
		fmt.Printf("%2d. %-20s %s\n", i+1, c.Title, c.LastLine)
	}
}

// render prints newly confirmed messages and notices. Every message that is
// printed counts as fully visible.
func (v *view) render(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-v.s.Notices():
			switch n.Kind {
			case client.NoticeSendFailed:
				fmt.Printf("! not sent: %s (/retry %s)\n", n.Message, n.TempID)
			case client.NoticeUploadFailed:
				fmt.Printf("! upload failed: %s\n", n.Message)
			case client.NoticeDelivered:
				fmt.Printf("  %s (%s)\n", n.Message, n.TempID)
			default:
				fmt.Printf("! %s\n", n.Message)
			}
		case <-v.s.Changes():
			self := v.s.Self()
			v.mu.Lock()
			for _, m := range v.s.Messages() {
				if m.State != client.Confirmed || v.printed[m.ID] {
					continue
				}
				v.printed[m.ID] = true
				who := "User"
				if m.Sender != nil {
					who = m.Sender.Username
				}
				body := m.Content
				if m.ImageURL != "" {
					body = strings.TrimSpace("[image " + m.ImageURL + "] " + body)
				}
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, body)
				if seen := client.SeenBy(&m.Message, self); seen != "" {
					fmt.Printf("        %s\n", seen)
				}
				v.s.Visible(m.ID, 1)
			}
			v.mu.Unlock()
		}
	}
}
