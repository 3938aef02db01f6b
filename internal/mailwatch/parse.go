package mailwatch

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"relaybot/internal/forward"
)

// AttachmentPlaceholder is the body of a message that only carries attachments.
const AttachmentPlaceholder = "[Attachment included — not downloaded]"

const truncatedSuffix = "\n\n...[truncated]"

// Parse turns a raw message into the forwarder payload. The body is the
// first text/plain part, else the first text/html part reduced to its text,
// truncated to maxBody characters.
func Parse(raw []byte, maxBody int) (forward.Email, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !tolerable(err) {
		return forward.Email{}, err
	}
	if mr == nil {
		return forward.Email{}, err
	}

	var e forward.Email
	if e.Sender, err = mr.Header.Text("From"); err != nil && !tolerable(err) {
		e.Sender = mr.Header.Get("From")
	}
	if e.Subject, err = mr.Header.Subject(); err != nil && !tolerable(err) {
		e.Subject = mr.Header.Get("Subject")
	}

	var plain, htmlText string
	attachment := false
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if tolerable(err) {
				continue
			}
			break
		}
		switch h := p.Header.(type) {
		case *mail.AttachmentHeader:
			attachment = true
		case *mail.InlineHeader:
			if _, params, _ := h.ContentDisposition(); params["filename"] != "" {
				attachment = true
				continue
			}
			ct, _, _ := h.ContentType()
			switch ct {
			case "text/plain":
				if plain == "" {
					plain = readPart(p.Body)
				}
			case "text/html":
				if htmlText == "" {
					htmlText = htmlToText(readPart(p.Body))
				}
			}
		}
	}

	body := plain
	if strings.TrimSpace(body) == "" {
		body = htmlText
	}
	e.Body = truncate(body, maxBody)
	if attachment && e.Body == "" {
		e.Body = AttachmentPlaceholder
	}
	return e, nil
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func readPart(r io.Reader) string {
	b, _ := io.ReadAll(r)
	return string(b)
}

// htmlToText keeps the trimmed text nodes of an HTML document, one per
// line, dropping script and style content.
func htmlToText(src string) string {
	z := html.NewTokenizer(strings.NewReader(src))
	var lines []string
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(lines, "\n")
		case html.StartTagToken:
			if name, _ := z.TagName(); isHidden(name) {
				skip++
			}
		case html.EndTagToken:
			if name, _ := z.TagName(); isHidden(name) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip > 0 {
				continue
			}
			if t := strings.TrimSpace(string(z.Text())); t != "" {
				lines = append(lines, t)
			}
		}
	}
}

func isHidden(tag []byte) bool {
	a := atom.Lookup(tag)
	return a == atom.Script || a == atom.Style
}

func truncate(s string, limit int) string {
	if s == "" || limit <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return strings.TrimRight(string(r[:limit]), " \t\r\n") + truncatedSuffix
}
