package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"castle_chat/internal/chat"
	"castle_chat/internal/model"
	"castle_chat/internal/service/client"
	"castle_chat/internal/session"
	"castle_chat/internal/utils/log"
)

// runLoop reads lines from in and prints chat events to out until the
// session closes, ctx is done or the user types /quit.
func runLoop(ctx context.Context, conv *client.Conversation, in io.Reader, out io.Writer) error {
	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, format, args...)
	}

	ch := conv.Channel
	session.On(ch, chat.EventMessage, func(m *model.Message) {
		v := conv.Chat.GetMessageValue(ctx, m)
		printf("%s %s\n", label(m), render(v))
	})
	session.On(ch, chat.EventSelfDestruct, func(st chat.SelfDestructState) {
		printf("** self-destruct %s **\n", st)
	})
	session.On(ch, chat.EventFriendTyping, func(typing bool) {
		if typing {
			printf("(friend is typing)\n")
		}
	})
	session.On(ch, chat.EventMessageRemoved, func(id string) {
		log.Debug("message expired", zap.String("id", id))
	})
	go func() {
		select {
		case <-ch.Connected():
			if fp, err := ch.Fingerprint(); err == nil {
				printf("connected, fingerprint %s\n", fp)
			}
		case <-ch.Closed():
		}
	}()
	ch.On(session.EventNotFound, func(any) {
		printf("channel not found or expired\n")
	})

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch.Closed():
			printf("session closed\n")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := handleLine(ctx, conv.Chat, line)
			if err != nil {
				printf("error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// handleLine runs one input line: /quit, /away, /back, /sd <seconds> <text>,
// /expire <seconds> <text>, or plain text.
func handleLine(ctx context.Context, c *chat.Service, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	if !strings.HasPrefix(line, "/") {
		if !c.IsConnected() {
			c.SetQueuedMessage(line, chat.SendOptions{})
			return false, nil
		}
		return false, c.SendText(ctx, line, chat.SendOptions{})
	}

	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit":
		c.Close()
		return true, nil

	case "/away", "/back":
		c.SetAway(cmd == "/away")
		return false, nil

	case "/sd", "/expire":
		secs, text, _ := strings.Cut(strings.TrimSpace(rest), " ")
		n, err := strconv.Atoi(secs)
		if err != nil || n <= 0 || text == "" {
			return false, fmt.Errorf("usage: %s <seconds> <text>", cmd)
		}
		opts := chat.SendOptions{
			SelfDestructTimeout: time.Duration(n) * time.Second,
			SelfDestructChat:    cmd == "/sd",
		}
		return false, c.SendText(ctx, text, opts)
	}
	return false, fmt.Errorf("unknown command %s", cmd)
}

func label(m *model.Message) string {
	ts := m.Timestamp.Local().Format("15:04")
	switch m.AuthorKind {
	case model.AuthorLocal:
		return ts + " you:"
	case model.AuthorRemote:
		return ts + " friend:"
	}
	return ts + " --"
}

func render(v *model.MessageValue) string {
	if v.Failure {
		return "[message could not be decrypted]"
	}
	return v.String()
}
