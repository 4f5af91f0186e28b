package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/4xmen/kelasyar/internal/avatar"
	"github.com/4xmen/kelasyar/internal/linkify"
	"github.com/4xmen/kelasyar/internal/messaging"
	"github.com/4xmen/kelasyar/internal/models"
	"github.com/4xmen/kelasyar/internal/realtime"
	"github.com/4xmen/kelasyar/internal/session"
	"github.com/4xmen/kelasyar/pkg/logger"
)

type commandFunc func(ctx context.Context, a *app, args []string) error

var commands map[string]commandFunc

func init() {
	commands = map[string]commandFunc{
		"login":         runLogin,
		"logout":        runLogout,
		"whoami":        runWhoami,
		"conversations": runConversations,
		"open":          runOpen,
		"start":         runStart,
		"group":         runGroup,
		"send":          runSend,
		"upload":        runUpload,
		"download":      runDownload,
		"edit":          runEdit,
		"delete":        runDelete,
		"rename":        runRename,
		"drop":          runDrop,
		"recipients":    runRecipients,
		"groups":        runGroups,
		"search":        runSearch,
		"watch":         runWatch,
		"status": func(_ context.Context, a *app, args []string) error {
			return runStatus(a.cfg, a.cache, a.session, a.out, args)
		},
	}
}

var errUsage = errors.New("invalid arguments, see kelasyar help")

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if err := a.session.SignIn(strings.TrimSpace(args[0])); err != nil {
		return fmt.Errorf("failed to sign in: %w", err)
	}
	me, _ := a.session.CurrentUser()

	// the token only carries the id and role; the profile fills in the name
	if profile, err := a.client.GetUser(ctx, me.ID); err == nil {
		me = profile
		a.cache.Remember(profile)
	} else {
		logger.Debug().Err(err).Int("user_id", me.ID).Msg("profile lookup failed")
	}

	fmt.Fprintf(a.out, "Signed in as %s (%s)\n", me.DisplayName(), me.Role)
	return nil
}

func runLogout(_ context.Context, a *app, _ []string) error {
	if err := a.session.SignOut(); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	fmt.Fprintln(a.out, "Signed out")
	return nil
}

func runWhoami(ctx context.Context, a *app, _ []string) error {
	me, err := session.Require(a.session)
	if err != nil {
		return err
	}
	if u, ok := a.cache.User(me.ID); ok {
		me = u
	}
	badge := avatarBadge(ctx, a, me)
	fmt.Fprintf(a.out, "%s %s  #%d  %s\n", badge, me.DisplayName(), me.ID, me.Role)
	return nil
}

func avatarBadge(ctx context.Context, a *app, u models.User) string {
	return avatar.Badge(a.avatars.Resolve(ctx, u))
}

func runConversations(ctx context.Context, a *app, _ []string) error {
	views, err := a.orch.ListConversations(ctx)
	if err != nil {
		return err
	}
	me, _ := a.session.CurrentUser()
	if len(views) == 0 {
		fmt.Fprintln(a.out, "No conversations yet")
		return nil
	}
	for _, v := range views {
		printConversation(ctx, a, me, v)
	}
	return nil
}

func printConversation(ctx context.Context, a *app, me models.User, v messaging.ConversationView) {
	badge := "  "
	if v.Other != nil {
		badge = avatarBadge(ctx, a, *v.Other)
	}
	marker := " "
	preview := ""
	if last := v.LastMessage; last != nil {
		if !last.IsRead && last.SenderID != me.ID {
			marker = "•"
		}
		preview = messagePreview(*last)
	}
	fmt.Fprintf(a.out, "%s %s %-5d %-32s %s\n", marker, badge, v.ID, v.Name(), preview)
}

func messagePreview(m models.Message) string {
	if m.HasFile() {
		return "📎 " + m.FileName
	}
	text := strings.Join(strings.Fields(m.Content), " ")
	if r := []rune(text); len(r) > 60 {
		text = string(r[:59]) + "…"
	}
	return linkify.Terminal(linkify.Render(text))
}

func runOpen(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := a.orch.SelectConversation(ctx, id); err != nil {
		return err
	}
	printMessages(a, a.orch.State().Messages)
	return nil
}

func printMessages(a *app, msgs []models.Message) {
	me, _ := a.session.CurrentUser()
	for _, m := range msgs {
		sender := "you"
		if m.SenderID != me.ID {
			sender = models.PlaceholderName(m.SenderID)
			if u, ok := a.cache.User(m.SenderID); ok {
				sender = u.DisplayName()
			}
		}

		body := linkify.Terminal(linkify.Render(m.Content))
		if m.HasFile() {
			body = fmt.Sprintf("[%s] %s", m.FileType, m.FileName)
		}

		flags := ""
		if m.UpdatedAt != nil {
			flags += " (edited)"
		}
		if m.SenderID == me.ID && m.IsRead {
			flags += " ✓✓"
		}
		fmt.Fprintf(a.out, "%-6d %s  %-20s %s%s\n", m.ID, m.CreatedAt.Local().Format("02 Jan 15:04"), sender, body, flags)
	}
}

func runStart(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	userID, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := a.orch.StartConversation(ctx, userID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Conversation %d\n", a.orch.ActiveID())
	printMessages(a, a.orch.State().Messages)
	return nil
}

func runGroup(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	groupID, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := a.orch.SelectGroup(ctx, groupID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Conversation %d\n", a.orch.ActiveID())
	printMessages(a, a.orch.State().Messages)
	return nil
}

// selectFrom opens the conversation named by args[0] and returns the rest.
func selectFrom(ctx context.Context, a *app, args []string, min int) ([]string, error) {
	if len(args) < min {
		return nil, errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return nil, err
	}
	if err := a.orch.SelectConversation(ctx, id); err != nil {
		return nil, err
	}
	return args[1:], nil
}

func runSend(ctx context.Context, a *app, args []string) error {
	rest, err := selectFrom(ctx, a, args, 2)
	if err != nil {
		return err
	}
	before := len(a.orch.State().Messages)
	if err := a.orch.SendText(ctx, strings.Join(rest, " ")); err != nil {
		return err
	}
	msgs := a.orch.State().Messages
	if len(msgs) > before {
		fmt.Fprintf(a.out, "Sent message %d\n", msgs[len(msgs)-1].ID)
	}
	return nil
}

func runUpload(ctx context.Context, a *app, args []string) error {
	rest, err := selectFrom(ctx, a, args, 2)
	if err != nil {
		return err
	}
	path := rest[0]
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	if err := a.orch.SendFile(ctx, messaging.File{Name: filepath.Base(path), Size: info.Size(), Body: f}); err != nil {
		return err
	}
	msgs := a.orch.State().Messages
	last := msgs[len(msgs)-1]
	fmt.Fprintf(a.out, "Sent %s as message %d (%s)\n", last.FileName, last.ID, last.FileType)
	return nil
}

func runDownload(ctx context.Context, a *app, args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	path, err := a.orch.DownloadAttachment(ctx, id, args[1])
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved %s\n", path)
	return nil
}

func runEdit(ctx context.Context, a *app, args []string) error {
	rest, err := selectFrom(ctx, a, args, 3)
	if err != nil {
		return err
	}
	msgID, err := parseID(rest[0])
	if err != nil {
		return err
	}
	if err := a.orch.EditMessage(ctx, msgID, strings.Join(rest[1:], " ")); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated message %d\n", msgID)
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	rest, err := selectFrom(ctx, a, args, 2)
	if err != nil {
		return err
	}
	msgID, err := parseID(rest[0])
	if err != nil {
		return err
	}
	err = a.orch.DeleteMessage(ctx, msgID)
	if errors.Is(err, messaging.ErrCancelled) {
		fmt.Fprintln(a.out, "Cancelled")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted message %d\n", msgID)
	return nil
}

func runRename(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if _, err := a.orch.ListConversations(ctx); err != nil {
		return err
	}
	if err := a.orch.UpdateConversationTitle(ctx, id, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Renamed conversation %d\n", id)
	return nil
}

func runDrop(ctx context.Context, a *app, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	err = a.orch.DeleteConversation(ctx, id)
	if errors.Is(err, messaging.ErrCancelled) {
		fmt.Fprintln(a.out, "Cancelled")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted conversation %d\n", id)
	return nil
}

func runRecipients(ctx context.Context, a *app, _ []string) error {
	users, err := a.orch.ListRecipients(ctx)
	if err != nil {
		return err
	}
	for _, u := range users {
		fmt.Fprintf(a.out, "%s %-5d %-32s %s\n", avatarBadge(ctx, a, u), u.ID, u.DisplayName(), u.Role)
	}
	return nil
}

func runGroups(ctx context.Context, a *app, _ []string) error {
	groups, err := a.orch.ListGroups(ctx)
	if err != nil {
		return err
	}
	for _, g := range groups {
		fmt.Fprintf(a.out, "%-5d %s\n", g.ID, g.Name)
	}
	return nil
}

func runSearch(ctx context.Context, a *app, args []string) error {
	rest, err := selectFrom(ctx, a, args, 2)
	if err != nil {
		return err
	}
	found, err := a.orch.SearchMessages(ctx, strings.Join(rest, " "))
	if err != nil {
		return err
	}
	if len(found) == 0 {
		fmt.Fprintln(a.out, "No matches")
		return nil
	}
	printMessages(a, found)
	return nil
}

func runWatch(ctx context.Context, a *app, _ []string) error {
	if _, err := session.Require(a.session); err != nil {
		return err
	}
	url := a.cfg.WSURL
	if url == "" {
		url = pushURL(a.cfg.APIBaseURL)
	}

	client := realtime.New(url, a.session, realtime.OnConnect(func() {
		if err := a.orch.Refresh(ctx); err != nil {
			logger.Debug().Err(err).Msg("refresh after reconnect failed")
		}
	}))

	fmt.Fprintf(a.out, "Watching %s, press Ctrl+C to stop\n", url)
	return client.Run(ctx, func(ev models.Event) {
		a.orch.ApplyEvent(ev)
		printEvent(a, ev)
	})
}

func printEvent(a *app, ev models.Event) {
	stamp := time.Now().Format("15:04:05")
	switch ev.Type {
	case models.EventMessage:
		if ev.Message != nil {
			fmt.Fprintf(a.out, "%s  new message in %d: %s\n", stamp, ev.ConversationID, messagePreview(*ev.Message))
		}
	case models.EventMessageUpdated:
		fmt.Fprintf(a.out, "%s  message %d edited\n", stamp, ev.MessageID)
	case models.EventMessageDeleted:
		fmt.Fprintf(a.out, "%s  message %d deleted\n", stamp, ev.MessageID)
	case models.EventRead:
		fmt.Fprintf(a.out, "%s  message %d read\n", stamp, ev.MessageID)
	case models.EventConversationDeleted:
		fmt.Fprintf(a.out, "%s  conversation %d deleted\n", stamp, ev.ConversationID)
	}
}

// pushURL derives the push endpoint from the API base URL:
// https://host/api becomes wss://host/ws.
func pushURL(apiBase string) string {
	u := strings.TrimSuffix(strings.TrimRight(apiBase, "/"), "/api")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}
