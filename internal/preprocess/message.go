// Package preprocess turns an extracted maildir tree into a cleaned,
// PII-redacted, line-delimited JSON dataset.
//
// Each message is parsed, its first text/plain body is reduced to the
// author's own words (CleanText), personal data is masked (Redactor) and
// the result is written as {"sender": ..., "text": ...}, one object per
// line, in path order.
package preprocess

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// maxNesting bounds multipart recursion on hostile input.
const maxNesting = 8

// Message is the part of an email the pipeline keeps.
type Message struct {
	From    string
	Subject string
	Body    string
}

// ParseMessage reads one RFC 5322 message. The body is the first text/plain
// part of a multipart message, or the whole body otherwise, with its
// transfer encoding removed. All bytes are interpreted as Latin-1, which
// maps every byte to a character and so never fails.
func ParseMessage(r io.Reader) (Message, error) {
	msg, err := mail.ReadMessage(bufio.NewReader(r))
	if err != nil {
		return Message{}, fmt.Errorf("reading message: %w", err)
	}

	body, err := extractBody(textproto.MIMEHeader(msg.Header), msg.Body, 0)
	if err != nil {
		return Message{}, err
	}

	return Message{
		From:    latin1(strings.TrimSpace(msg.Header.Get("From"))),
		Subject: latin1(strings.TrimSpace(msg.Header.Get("Subject"))),
		Body:    latin1(string(body)),
	}, nil
}

// extractBody returns the decoded text of the first text/plain leaf under
// an entity with header h, or nil when there is none.
func extractBody(h textproto.MIMEHeader, body io.Reader, depth int) ([]byte, error) {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		// Missing or malformed Content-Type: treat as plain text.
		mediaType = "text/plain"
	}

	if !strings.HasPrefix(mediaType, "multipart/") {
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		return decodeTransfer(h.Get("Content-Transfer-Encoding"), raw), nil
	}

	if depth >= maxNesting {
		return nil, errors.New("multipart nesting too deep")
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.New("multipart message without boundary")
	}

	mr := multipart.NewReader(body, boundary)
	for {
		// NextRawPart leaves the transfer encoding to decodeTransfer so
		// base64 and quoted-printable are handled the same way.
		part, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading multipart body: %w", err)
		}

		partType, _, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err != nil {
			partType = "text/plain"
		}

		switch {
		case strings.HasPrefix(partType, "multipart/"):
			text, err := extractBody(part.Header, part, depth+1)
			if err != nil {
				return nil, err
			}
			if text != nil {
				return text, nil
			}
		case partType == "text/plain":
			raw, err := io.ReadAll(part)
			if err != nil {
				return nil, fmt.Errorf("reading text part: %w", err)
			}
			return decodeTransfer(part.Header.Get("Content-Transfer-Encoding"), raw), nil
		}
	}
}

// decodeTransfer removes a Content-Transfer-Encoding. Undecodable input is
// returned as-is rather than dropping the message.
func decodeTransfer(encoding string, raw []byte) []byte {
	var r io.Reader
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		r = quotedprintable.NewReader(bytes.NewReader(raw))
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, bytes.NewReader(raw))
	default:
		return raw
	}

	decoded, err := io.ReadAll(r)
	if err != nil {
		return raw
	}
	return decoded
}

func latin1(s string) string {
	out, err := charmap.ISO8859_1.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}
