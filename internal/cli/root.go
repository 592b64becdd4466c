// Package cli is the terminal front end of the chat client. It owns the local
// conversation history and talks to the relay for model replies.
package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AlphaNoXD/pai/internal/app"
	"github.com/AlphaNoXD/pai/internal/config"
	app_errors "github.com/AlphaNoXD/pai/internal/errors"
	"github.com/AlphaNoXD/pai/internal/service"
)

type rootFlags struct {
	backend   string
	storePath string
	relayURL  string
}

type runner struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	flags  rootFlags
}

// NewRootCmd builds the `pai` command tree.
func NewRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	r := &runner{in: in, out: out, errOut: errOut}

	root := &cobra.Command{
		Use:           "pai",
		Short:         "Chat with a generative model through the pai relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&r.flags.backend, "backend", "", "history backend: sqlite, bolt, redis or memory (overrides STORE_BACKEND)")
	pf.StringVar(&r.flags.storePath, "store-path", "", "history file for the sqlite and bolt backends (overrides STORE_PATH)")
	pf.StringVar(&r.flags.relayURL, "relay-url", "", "relay endpoint (overrides RELAY_URL)")

	root.AddCommand(
		r.newListCmd(),
		r.newNewCmd(),
		r.newShowCmd(),
		r.newSendCmd(),
		r.newPinCmd(),
		r.newDeleteCmd(),
		r.newChatCmd(),
	)
	return root
}

func (r *runner) loadConfig() (*config.ClientConfig, error) {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if r.flags.backend != "" {
		cfg.StoreBackend = r.flags.backend
	}
	if r.flags.storePath != "" {
		cfg.StorePath = r.flags.storePath
	}
	if r.flags.relayURL != "" {
		cfg.RelayURL = r.flags.relayURL
	}
	return cfg, nil
}

// withChat opens the history, selects the startup conversation and runs fn.
func (r *runner) withChat(cmd *cobra.Command, fn func(ctx context.Context, chat *service.ChatService) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := r.loadConfig()
	if err != nil {
		return err
	}
	c, err := app.NewClient(ctx, cfg, r.errOut)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := c.Close(); cerr != nil {
			fmt.Fprintf(r.errOut, "failed to close history store: %v\n", cerr)
		}
	}()

	if _, err := c.Chat.Start(ctx); err != nil {
		return err
	}
	return fn(ctx, c.Chat)
}

// resolveChat accepts a conversation id or its 1-based position in the list.
func resolveChat(chat *service.ChatService, arg string) (string, error) {
	arg = strings.TrimSpace(arg)
	entries := chat.ListChats()
	if n, err := strconv.Atoi(arg); err == nil {
		if n < 1 || n > len(entries) {
			return "", app_errors.New(app_errors.ErrNotFound, fmt.Sprintf("no conversation at position %d", n))
		}
		return entries[n-1].ID, nil
	}
	for _, e := range entries {
		if e.ID == arg {
			return arg, nil
		}
	}
	return "", app_errors.New(app_errors.ErrNotFound, fmt.Sprintf("conversation %q not found", arg))
}

func (r *runner) newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations, pinned first then newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withChat(cmd, func(_ context.Context, chat *service.ChatService) error {
				active, _ := chat.ActiveChat()
				renderChatList(r.out, chat.ListChats(), active)
				return nil
			})
		},
	}
}

func (r *runner) newNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Start an empty conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withChat(cmd, func(ctx context.Context, chat *service.ChatService) error {
				id, err := chat.NewChat(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(r.out, id)
				return nil
			})
		},
	}
}

func (r *runner) newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id|position]",
		Short: "Print the messages of a conversation (default: the first listed)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withChat(cmd, func(_ context.Context, chat *service.ChatService) error {
				id, ok := chat.ActiveChat()
				if len(args) == 1 {
					var err error
					if id, err = resolveChat(chat, args[0]); err != nil {
						return err
					}
				} else if !ok {
					renderMessages(r.out, nil)
					return nil
				}
				messages, err := chat.OpenChat(id)
				if err != nil {
					return err
				}
				renderMessages(r.out, messages)
				return nil
			})
		},
	}
}

func (r *runner) newSendCmd() *cobra.Command {
	var (
		chatArg string
		newChat bool
		image   bool
		outDir  string
	)
	cmd := &cobra.Command{
		Use:   "send <message...>",
		Short: "Send a message (or an image prompt with --image) and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			return r.withChat(cmd, func(ctx context.Context, chat *service.ChatService) error {
				switch {
				case newChat:
					if _, err := chat.NewChat(ctx); err != nil {
						return err
					}
				case chatArg != "":
					id, err := resolveChat(chat, chatArg)
					if err != nil {
						return err
					}
					if _, err := chat.OpenChat(id); err != nil {
						return err
					}
				}

				if !image {
					reply, err := chat.SendMessage(ctx, text)
					if err != nil {
						return err
					}
					fmt.Fprintln(r.out, reply.Content())
					return nil
				}

				reply, err := chat.GenerateImage(ctx, text)
				if err != nil {
					return err
				}
				if outDir == "" {
					renderMessage(r.out, reply)
					return nil
				}
				id, _ := chat.ActiveChat()
				messages, _ := chat.OpenChat(id)
				path, err := saveImage(outDir, id, len(messages), reply.Content())
				if err != nil {
					return err
				}
				fmt.Fprintln(r.out, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&chatArg, "chat", "", "conversation id or list position to send to")
	cmd.Flags().BoolVar(&newChat, "new", false, "start a new conversation first")
	cmd.Flags().BoolVar(&image, "image", false, "treat the message as an image prompt")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write generated images to")
	cmd.MarkFlagsMutuallyExclusive("chat", "new")
	return cmd
}

func (r *runner) newPinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pin <id|position>",
		Short: "Toggle the pin of a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withChat(cmd, func(ctx context.Context, chat *service.ChatService) error {
				id, err := resolveChat(chat, args[0])
				if err != nil {
					return err
				}
				pinned, err := chat.TogglePin(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintln(r.out, pinState(id, pinned))
				return nil
			})
		},
	}
}

func (r *runner) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|position>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withChat(cmd, func(ctx context.Context, chat *service.ChatService) error {
				id, err := resolveChat(chat, args[0])
				if err != nil {
					return err
				}
				if _, err := chat.DeleteChat(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(r.out, "deleted %s\n", id)
				return nil
			})
		},
	}
}

func (r *runner) newChatCmd() *cobra.Command {
	var outDir string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withChat(cmd, func(ctx context.Context, chat *service.ChatService) error {
				return newSession(chat, r.in, r.out, outDir).Run(ctx)
			})
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write generated images to")
	return cmd
}

func pinState(id string, pinned bool) string {
	if pinned {
		return fmt.Sprintf("pinned %s", id)
	}
	return fmt.Sprintf("unpinned %s", id)
}
