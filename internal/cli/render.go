package cli

import (
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/AlphaNoXD/pai/internal/model"
)

const maxTitleLen = 48

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	activeStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("33"))
	pinStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	modelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	mutedStyle  = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// renderChatList writes one line per conversation in listing order. The
// active conversation is marked with ">" and pinned ones with "★".
func renderChatList(w io.Writer, entries []model.ConversationEntry, activeID string) {
	fmt.Fprintln(w, headerStyle.Render("Chats"))
	if len(entries) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("  (none)"))
		return
	}
	for i, entry := range entries {
		marker := "  "
		style := lipgloss.NewStyle()
		if entry.ID == activeID {
			marker = "> "
			style = activeStyle
		}
		pin := "  "
		if entry.Conversation.IsPinned {
			pin = pinStyle.Render("★ ")
		}
		title := truncate(entry.Conversation.Title(), maxTitleLen)
		fmt.Fprintf(w, "%s%2d %s%s %s\n", marker, i+1, pin, style.Render(title), mutedStyle.Render(entry.ID))
	}
}

func renderMessage(w io.Writer, msg model.Message) {
	label := userStyle.Render("you")
	if msg.Role == model.RoleModel {
		label = modelStyle.Render("model")
	}
	if msg.ContentType() == model.ContentImage {
		fmt.Fprintf(w, "%s: %s\n", label, mutedStyle.Render(fmt.Sprintf("[image, %d bytes base64]", len(msg.Content()))))
		return
	}
	fmt.Fprintf(w, "%s: %s\n", label, msg.Content())
}

func renderMessages(w io.Writer, messages []model.Message) {
	if len(messages) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("(empty conversation)"))
		return
	}
	for _, msg := range messages {
		renderMessage(w, msg)
	}
}

func renderError(w io.Writer, err error) {
	fmt.Fprintln(w, errorStyle.Render("error: "+err.Error()))
}

// saveImage decodes a base64 image payload into dir and returns the file path.
func saveImage(dir, chatID string, index int, payload string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("image payload is not valid base64: %w", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create image directory: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%d.png", chatID, index))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return path, nil
}
