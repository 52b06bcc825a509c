package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/knadh/go-pop3"

	"voicebox/internal/config"
	"voicebox/internal/logging"
)

// ErrNoCredentials indicates the mailbox connection is not configured.
var ErrNoCredentials = errors.New("mailbox credentials not configured")

// audioExtensions lists attachment types accepted as voicemail audio.
var audioExtensions = map[string]struct{}{
	".mp3": {},
	".wav": {},
	".m4a": {},
	".ogg": {},
}

// Message is one voicemail email pulled from the mailbox.
type Message struct {
	ID         string
	Sender     string
	Subject    string
	Phone      string
	ReceivedAt time.Time
	AudioName  string
	Audio      []byte
}

// MailFetcher pulls pending voicemail messages from a mailbox.
type MailFetcher interface {
	Fetch(ctx context.Context) ([]Message, error)
}

// Loader fetches voicemail emails over POP3. Messages stay on the server;
// duplicate deliveries are absorbed by the store's idempotent insert.
type Loader struct {
	cfg    config.Mail
	logger *slog.Logger
}

// NewLoader constructs a POP3 loader for the configured mailbox.
func NewLoader(cfg config.Mail, logger *slog.Logger) *Loader {
	return &Loader{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "intake"),
	}
}

// Fetch downloads every message in the mailbox and parses out the voicemail
// metadata and audio attachment. Messages that cannot be parsed are skipped
// with a log line rather than failing the whole poll.
func (l *Loader) Fetch(ctx context.Context) ([]Message, error) {
	if strings.TrimSpace(l.cfg.Server) == "" || strings.TrimSpace(l.cfg.Username) == "" || strings.TrimSpace(l.cfg.Password) == "" {
		return nil, ErrNoCredentials
	}

	client := pop3.New(pop3.Opt{
		Host:       l.cfg.Server,
		Port:       l.cfg.Port,
		TLSEnabled: l.cfg.TLSEnabled,
	})
	conn, err := client.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect mailbox: %w", err)
	}
	defer conn.Quit()

	if err := conn.Auth(l.cfg.Username, l.cfg.Password); err != nil {
		return nil, fmt.Errorf("authenticate mailbox: %w", err)
	}

	count, _, err := conn.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat mailbox: %w", err)
	}

	messages := make([]Message, 0, count)
	for i := 1; i <= count; i++ {
		if err := ctx.Err(); err != nil {
			return messages, err
		}
		entity, err := conn.Retr(i)
		if err != nil {
			l.logger.Warn("failed to retrieve message",
				logging.Int("index", i),
				logging.Error(err),
			)
			continue
		}
		msg, err := parseMessage(mail.NewReader(entity))
		if err != nil {
			l.logger.Warn("skipping unparseable message",
				logging.Int("index", i),
				logging.Error(err),
			)
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func parseMessage(reader *mail.Reader) (Message, error) {
	var msg Message

	id, err := reader.Header.MessageID()
	if err != nil || strings.TrimSpace(id) == "" {
		return msg, fmt.Errorf("missing message id: %w", err)
	}
	msg.ID = id

	if subject, err := reader.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if date, err := reader.Header.Date(); err == nil {
		msg.ReceivedAt = date.UTC()
	} else {
		return msg, fmt.Errorf("parse date: %w", err)
	}
	if from, err := reader.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].Address
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return msg, fmt.Errorf("read part: %w", err)
		}
		header, ok := part.Header.(*mail.AttachmentHeader)
		if !ok {
			continue
		}
		filename, err := header.Filename()
		if err != nil || filename == "" {
			continue
		}
		ext := strings.ToLower(filepath.Ext(filename))
		if _, ok := audioExtensions[ext]; !ok {
			continue
		}
		data, err := io.ReadAll(part.Body)
		if err != nil {
			return msg, fmt.Errorf("read attachment: %w", err)
		}
		msg.AudioName = filename
		msg.Audio = data
		msg.Phone = phoneFromFilename(filename)
		break
	}

	if len(msg.Audio) == 0 {
		return msg, errors.New("no audio attachment")
	}
	return msg, nil
}

// phoneFromFilename extracts the caller number from attachment names like
// "+49301234567-2024-05-02.mp3".
func phoneFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	prefix, _, found := strings.Cut(base, "-")
	if !found {
		return ""
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	for _, r := range prefix {
		if (r < '0' || r > '9') && r != '+' {
			return ""
		}
	}
	return prefix
}
