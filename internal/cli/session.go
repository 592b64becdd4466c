package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/AlphaNoXD/pai/internal/service"
)

const sessionHelp = `commands:
  /new               start a new conversation
  /list              list conversations
  /open <id|n>       switch to a conversation
  /pin [id|n]        toggle the pin (default: current)
  /delete [id|n]     delete a conversation (default: current)
  /image <prompt>    generate an image
  /help              show this help
  /quit              leave
anything else is sent as a message`

// session is the interactive read-eval loop behind `pai chat`.
type session struct {
	chat   *service.ChatService
	in     io.Reader
	out    io.Writer
	outDir string
	prompt bool
	done   bool
}

func newSession(chat *service.ChatService, in io.Reader, out io.Writer, outDir string) *session {
	prompt := false
	if f, ok := in.(*os.File); ok {
		prompt = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &session{chat: chat, in: in, out: out, outDir: outDir, prompt: prompt}
}

// Run reads lines until /quit, end of input or ctx is cancelled. Failed
// commands are reported and the loop continues. Input is read on its own
// goroutine so that cancellation also ends an idle prompt.
func (s *session) Run(ctx context.Context) error {
	if s.prompt {
		fmt.Fprintln(s.out, mutedStyle.Render("type /help for commands"))
	}
	s.showCurrent()

	lines := make(chan string)
	errc := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(s.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-stop:
				return
			}
		}
		errc <- scanner.Err()
	}()

	for !s.done {
		if s.prompt {
			fmt.Fprint(s.out, "> ")
		}
		var (
			raw string
			ok  bool
		)
		select {
		case <-ctx.Done():
			if s.prompt {
				fmt.Fprintln(s.out)
			}
			return nil
		case raw, ok = <-lines:
		}
		if !ok {
			return <-errc
		}
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if err := s.handle(ctx, line); err != nil {
			renderError(s.out, err)
		}
	}
	return nil
}

func (s *session) handle(ctx context.Context, line string) error {
	if !strings.HasPrefix(line, "/") {
		reply, err := s.chat.SendMessage(ctx, line)
		if err != nil {
			return err
		}
		renderMessage(s.out, reply)
		return nil
	}

	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch name {
	case "/quit", "/exit":
		s.done = true
		return nil
	case "/help":
		fmt.Fprintln(s.out, sessionHelp)
		return nil
	case "/list":
		active, _ := s.chat.ActiveChat()
		renderChatList(s.out, s.chat.ListChats(), active)
		return nil
	case "/new":
		id, err := s.chat.NewChat(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "started %s\n", id)
		return nil
	case "/open":
		id, err := resolveChat(s.chat, arg)
		if err != nil {
			return err
		}
		messages, err := s.chat.OpenChat(id)
		if err != nil {
			return err
		}
		renderMessages(s.out, messages)
		return nil
	case "/pin":
		id, err := s.target(arg)
		if err != nil {
			return err
		}
		pinned, err := s.chat.TogglePin(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(s.out, pinState(id, pinned))
		return nil
	case "/delete":
		id, err := s.target(arg)
		if err != nil {
			return err
		}
		active, err := s.chat.DeleteChat(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "deleted %s, now in %s\n", id, active)
		return nil
	case "/image":
		return s.image(ctx, arg)
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}
}

// target resolves an optional id argument, defaulting to the active
// conversation.
func (s *session) target(arg string) (string, error) {
	if arg != "" {
		return resolveChat(s.chat, arg)
	}
	id, ok := s.chat.ActiveChat()
	if !ok {
		return "", fmt.Errorf("no active conversation")
	}
	return id, nil
}

func (s *session) image(ctx context.Context, prompt string) error {
	reply, err := s.chat.GenerateImage(ctx, prompt)
	if err != nil {
		return err
	}
	if s.outDir == "" {
		renderMessage(s.out, reply)
		return nil
	}
	id, _ := s.chat.ActiveChat()
	messages, _ := s.chat.OpenChat(id)
	path, err := saveImage(s.outDir, id, len(messages), reply.Content())
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "image saved to %s\n", path)
	return nil
}

func (s *session) showCurrent() {
	id, ok := s.chat.ActiveChat()
	if !ok {
		return
	}
	messages, err := s.chat.OpenChat(id)
	if err != nil {
		return
	}
	fmt.Fprintf(s.out, "%s %s\n", headerStyle.Render("conversation"), id)
	if len(messages) > 0 {
		renderMessages(s.out, messages)
	}
}
