package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"because/internal/domain"
	"because/internal/lifecycle"
)

// Collection is the part of lifecycle.Manager the bot drives.
type Collection interface {
	Add(ctx context.Context, content, reason string) (domain.Item, error)
	Edit(ctx context.Context, id, content, reason string) (domain.Item, error)
	Delete(id string) (domain.Item, error)
	Undo() (domain.Item, error)
	Reclassify(id string) error
	Items() []domain.Item
	ResolveID(ref string) (string, error)
	Filter(query string, topic domain.Topic) []domain.Item
	Stats() lifecycle.Stats
	WriteExport(w io.Writer) error
	TakeBackgroundError() error
}

// CredentialManager persists the user's provider key. Optional.
type CredentialManager interface {
	SaveCredentials(provider, key string) error
	ClearCredentials() error
}

// Reply is what the bot sends back for one message.
type Reply struct {
	Text string
	// Document, when set, is sent as a file after Text.
	Document *Document
}

// Document is a file attachment.
type Document struct {
	Name string
	Data []byte
}

const (
	listLimit = 20
	shortID   = 8
)

const usage = `Save things together with why they matter.

content | reason   save something
/add content | reason
/list [search]     recent items
/topic <name>      items with a topic
/edit <id> content | reason
/delete <id>       undo with /undo
/reclassify <id>
/export            download everything
/stats             topic breakdown
/key <provider> <key>, /key clear`

// Commands turns chat text into collection operations.
type Commands struct {
	items Collection
	creds CredentialManager
	now   func() time.Time
	log   logrus.FieldLogger
}

// NewCommands creates the command set. creds may be nil.
func NewCommands(items Collection, creds CredentialManager, logger logrus.FieldLogger) *Commands {
	return &Commands{
		items: items,
		creds: creds,
		now:   time.Now,
		log:   logger.WithField("component", "bot_commands"),
	}
}

// ParseCommand splits "/cmd@botname args" into its lower-cased name and the
// trimmed remainder. Text that is not a command yields an empty name.
func ParseCommand(text string) (string, string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	name, args, _ := strings.Cut(text, " ")
	name, _, _ = strings.Cut(name, "@")
	return strings.ToLower(name), strings.TrimSpace(args)
}

// SplitPair splits "content | reason" on the first pipe.
func SplitPair(s string) (content, reason string, ok bool) {
	content, reason, ok = strings.Cut(s, "|")
	return strings.TrimSpace(content), strings.TrimSpace(reason), ok
}

// Respond handles one message.
func (c *Commands) Respond(ctx context.Context, text string) Reply {
	name, args := ParseCommand(text)
	reply := c.dispatch(ctx, name, args)
	if err := c.items.TakeBackgroundError(); err != nil {
		reply.Text += "\n\nHeads up: an earlier change could not be saved (" + describe(err) + ")."
	}
	return reply
}

func (c *Commands) dispatch(ctx context.Context, name, args string) Reply {
	switch name {
	case "/start", "/help":
		return Reply{Text: usage}
	case "", "/add":
		return c.add(ctx, args)
	case "/list":
		return c.list(c.items.Filter(args, ""), "Nothing saved yet.")
	case "/topic":
		t, ok := domain.ParseTopic(args)
		if !ok {
			return Reply{Text: "Pick one of: " + joinTopics(domain.AllTopics)}
		}
		return c.list(c.items.Filter("", t), "Nothing under "+string(t)+".")
	case "/edit":
		return c.edit(ctx, args)
	case "/delete":
		return c.delete(args)
	case "/undo":
		it, err := c.items.Undo()
		if err != nil {
			return Reply{Text: describe(err)}
		}
		return Reply{Text: "Restored: " + it.Content}
	case "/reclassify":
		return c.reclassify(args)
	case "/export":
		return c.export()
	case "/stats":
		return c.stats()
	case "/key":
		return c.key(args)
	}
	return Reply{Text: "Unknown command. Send /help for the list."}
}

func (c *Commands) add(ctx context.Context, args string) Reply {
	content, reason, ok := SplitPair(args)
	if !ok {
		return Reply{Text: "Send it as: content | reason"}
	}
	it, err := c.items.Add(ctx, content, reason)
	if err != nil {
		return Reply{Text: describe(err)}
	}
	return Reply{Text: fmt.Sprintf("Saved (%s). Sorting it into topics now.", short(it.ID))}
}

func (c *Commands) edit(ctx context.Context, args string) Reply {
	ref, rest, _ := strings.Cut(args, " ")
	content, reason, ok := SplitPair(rest)
	if ref == "" || !ok {
		return Reply{Text: "Usage: /edit <id> content | reason"}
	}
	id, err := c.resolve(ref)
	if err != nil {
		return Reply{Text: describe(err)}
	}
	if _, err := c.items.Edit(ctx, id, content, reason); err != nil {
		return Reply{Text: describe(err)}
	}
	return Reply{Text: "Updated. Topics will refresh shortly."}
}

func (c *Commands) delete(args string) Reply {
	id, err := c.resolve(args)
	if err != nil {
		return Reply{Text: describe(err)}
	}
	it, err := c.items.Delete(id)
	if err != nil {
		return Reply{Text: describe(err)}
	}
	return Reply{Text: "Deleted: " + it.Content + "\nSend /undo to bring it back."}
}

func (c *Commands) reclassify(args string) Reply {
	id, err := c.resolve(args)
	if err != nil {
		return Reply{Text: describe(err)}
	}
	if err := c.items.Reclassify(id); err != nil {
		return Reply{Text: describe(err)}
	}
	return Reply{Text: "Reclassifying."}
}

func (c *Commands) list(items []domain.Item, empty string) Reply {
	if len(items) == 0 {
		return Reply{Text: empty}
	}
	var b strings.Builder
	for i, it := range items {
		if i == listLimit {
			fmt.Fprintf(&b, "...and %d more. Narrow it with /list <search>.", len(items)-listLimit)
			break
		}
		topics := joinTopics(it.EffectiveTopics())
		if it.Classifying {
			topics = "classifying"
		}
		fmt.Fprintf(&b, "%s [%s]\n%s\n\n", short(it.ID), topics, it.CopyText())
	}
	return Reply{Text: strings.TrimSpace(b.String())}
}

func (c *Commands) export() Reply {
	var buf bytes.Buffer
	if err := c.items.WriteExport(&buf); err != nil {
		c.log.WithError(err).Error("Export failed")
		return Reply{Text: "Export failed."}
	}
	return Reply{
		Text:     fmt.Sprintf("%d items exported.", len(c.items.Items())),
		Document: &Document{Name: lifecycle.ExportFilename(c.now()), Data: buf.Bytes()},
	}
}

func (c *Commands) stats() Reply {
	s := c.items.Stats()
	if len(s.Labels) == 0 {
		return Reply{Text: "Nothing saved yet."}
	}
	var b strings.Builder
	for i, label := range s.Labels {
		bar := strings.Repeat("#", int(s.Values[i]/10))
		fmt.Fprintf(&b, "%-12s %3d %s\n", label, s.Counts[i], bar)
	}
	return Reply{Text: strings.TrimRight(b.String(), "\n")}
}

func (c *Commands) key(args string) Reply {
	if c.creds == nil {
		return Reply{Text: "Keys are managed by the server here."}
	}
	fields := strings.Fields(args)
	switch {
	case len(fields) == 1 && strings.EqualFold(fields[0], "clear"):
		if err := c.creds.ClearCredentials(); err != nil {
			return Reply{Text: describe(err)}
		}
		return Reply{Text: "Key removed. Using the shared service."}
	case len(fields) == 2:
		if err := c.creds.SaveCredentials(fields[0], fields[1]); err != nil {
			return Reply{Text: describe(err)}
		}
		return Reply{Text: "Key saved for " + strings.ToLower(fields[0]) + "."}
	}
	return Reply{Text: "Usage: /key <groq|openai|gemini> <key>, or /key clear"}
}

// resolve maps a full id or unique id prefix to an item id.
func (c *Commands) resolve(ref string) (string, error) {
	if strings.TrimSpace(ref) == "" {
		return "", errNoRef
	}
	return c.items.ResolveID(ref)
}

var errNoRef = errors.New("which item? Pass the id shown by /list")

// describe turns an error into a message for the chat.
func describe(err error) string {
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Hint
	case domain.IsQuotaExceeded(err):
		return "Storage is full. Delete or export some items first."
	case errors.Is(err, domain.ErrUnavailable), errors.Is(err, domain.ErrIO):
		return "Storage is not available right now. Nothing was changed."
	case errors.Is(err, domain.ErrNotFound):
		return "No item with that id."
	case errors.Is(err, domain.ErrAmbiguousID):
		return "That id matches more than one item. Use more characters."
	case errors.Is(err, domain.ErrNothingToUndo):
		return "Nothing to undo."
	case errors.Is(err, domain.ErrAlreadyClassifying):
		return "Already working on that one."
	case errors.Is(err, domain.ErrClosed):
		return "Shutting down. Try again in a moment."
	}
	return err.Error()
}

func short(id string) string {
	if len(id) > shortID {
		return id[:shortID]
	}
	return id
}

func joinTopics(ts []domain.Topic) string {
	parts := make([]string, len(ts))
	for i, t := range ts {
		parts[i] = string(t)
	}
	return strings.Join(parts, ", ")
}
