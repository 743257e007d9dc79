// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package parser turns raw RFC 5322 bytes into an IncomingMessage.
//
// Bodies are transfer-decoded by go-message but left in their declared
// charset; textenc recovers UTF-8 from them. No charset reader is
// registered with go-message so that conversion happens exactly once.
package parser

import (
	"bufio"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"

	"github.com/mdheller/discourse/internal/models"
	"github.com/mdheller/discourse/internal/textenc"
)

// ErrEmptyMessage is returned for zero-length or whitespace-only input.
var ErrEmptyMessage = errors.New("empty message")

// maxDepth bounds multipart nesting.
const maxDepth = 16

var (
	msgIDPattern = regexp.MustCompile(`<([^<>\s]+)>`)
	foldPattern  = regexp.MustCompile(`\n[ \t]+`)
)

// Parse reads one message.
func Parse(raw []byte) (*models.IncomingMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyMessage
	}

	e, err := message.Read(bytes.NewReader(raw))
	if malformedHeader(err) {
		// Drop the fields go-message refuses and keep the rest.
		e, err = message.Read(bytes.NewReader(repairHeader(raw)))
	}
	if err != nil && !tolerable(err) {
		return nil, fmt.Errorf("read message: %w", err)
	}

	h := e.Header
	msg := &models.IncomingMessage{
		Raw:         raw,
		MessageID:   MessageID(h.Get("Message-Id"), raw),
		Subject:     strings.TrimSpace(textenc.DecodeHeader(h.Get("Subject"))),
		From:        h.Get("From"),
		To:          values(h, "To"),
		Cc:          values(h, "Cc"),
		ForwardedTo: values(h, "X-Forwarded-To"),
		DeliveredTo: values(h, "Delivered-To"),
		InReplyTo:   MessageIDList(h.Get("In-Reply-To")),
		References:  MessageIDList(h.Get("References")),
		Precedence:  strings.TrimSpace(h.Get("Precedence")),
		HeaderText:  headerText(raw),
	}
	mh := mail.Header{Header: h}
	if date, err := mh.Date(); err == nil {
		msg.Date = date
	}

	mediaType, _, _ := h.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}
	msg.ContentType = mediaType
	msg.Multipart = strings.HasPrefix(mediaType, "multipart/")

	w := &walker{msg: msg}
	if err := w.walk(e, 0, false); err != nil {
		return nil, err
	}
	return msg, nil
}

// MessageID strips angle brackets from the Message-Id header value. When the
// header is missing it falls back to the hex MD5 of the raw message.
func MessageID(header string, raw []byte) string {
	id := strings.TrimSpace(header)
	if m := msgIDPattern.FindStringSubmatch(id); m != nil {
		id = m[1]
	} else {
		id = strings.Trim(id, "<>")
	}
	if id != "" {
		return id
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// MessageIDList extracts the ids of an In-Reply-To or References value.
func MessageIDList(value string) []string {
	var ids []string
	for _, m := range msgIDPattern.FindAllStringSubmatch(value, -1) {
		ids = append(ids, m[1])
	}
	if ids == nil {
		ids = strings.Fields(value)
	}
	return ids
}

func tolerable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

// malformedHeader reports a header block go-message could not tokenize.
// Its textproto errors are unexported, so the text is all there is.
func malformedHeader(err error) bool {
	return err != nil && strings.Contains(err.Error(), "malformed MIME header")
}

// repairHeader rewrites the header block of raw without the lines that are
// not fields: lines lacking a colon, keys with bytes outside printable
// ASCII, and continuation lines with no field before them. The body is
// left untouched.
func repairHeader(raw []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(raw))

	rest := raw
	kept := false
	for len(rest) > 0 {
		line := rest
		if i := bytes.IndexByte(rest, '\n'); i >= 0 {
			line = rest[:i+1]
		}
		rest = rest[len(line):]

		content := bytes.TrimRight(line, "\r\n")
		if len(content) == 0 {
			out.Write(line)
			out.Write(rest)
			return out.Bytes()
		}
		if content[0] == ' ' || content[0] == '\t' {
			if kept {
				out.Write(line)
			}
			continue
		}
		kept = validField(content)
		if kept {
			out.Write(line)
		}
	}
	return out.Bytes()
}

func validField(line []byte) bool {
	i := bytes.IndexByte(line, ':')
	if i <= 0 {
		return false
	}
	for _, c := range bytes.TrimRight(line[:i], " \t") {
		if c < '!' || c > '~' {
			return false
		}
	}
	return true
}

func values(h message.Header, key string) []string {
	var out []string
	fields := h.FieldsByKey(key)
	for fields.Next() {
		if v := strings.TrimSpace(fields.Value()); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// headerText is the unfolded header block.
func headerText(raw []byte) string {
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if i := strings.Index(text, "\n\n"); i >= 0 {
		text = text[:i]
	}
	return foldPattern.ReplaceAllString(text, " ")
}

type walker struct {
	msg *models.IncomingMessage
}

// walk visits e and its children. Inside a multipart/report only the
// human-readable part is eligible as a body.
func (w *walker) walk(e *message.Entity, depth int, report bool) error {
	if depth > maxDepth {
		return nil
	}

	mediaType, params, _ := e.Header.ContentType()
	if mediaType == "" {
		mediaType = "text/plain"
	}

	if mr := e.MultipartReader(); mr != nil {
		isReport := mediaType == "multipart/report"
		if isReport && strings.EqualFold(params["report-type"], "delivery-status") {
			w.msg.Delivery.Report = true
		}
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if malformedHeader(err) {
				// The part boundary is lost with the header; keep the
				// parts already read.
				return nil
			}
			if err != nil && !tolerable(err) {
				return fmt.Errorf("read part: %w", err)
			}
			if err := w.walk(part, depth+1, report || isReport); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(e.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	switch mediaType {
	case "message/delivery-status":
		w.msg.Delivery.Report = true
		parseDeliveryStatus(data, &w.msg.Delivery)
		return nil
	case "message/rfc822", "text/rfc822-headers":
		if report {
			return nil
		}
	}

	disposition, dispParams, _ := e.Header.ContentDisposition()
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}
	filename = textenc.DecodeHeader(filename)
	isAttachment := strings.EqualFold(disposition, "attachment") || filename != ""

	if !isAttachment && (mediaType == "text/plain" || mediaType == "text/html") {
		part := w.textPart(e, mediaType, params["charset"], data)
		if mediaType == "text/plain" && w.msg.TextPart == nil {
			w.msg.TextPart = part
		} else if mediaType == "text/html" && w.msg.HTMLPart == nil {
			w.msg.HTMLPart = part
		}
		return nil
	}

	if filename == "" {
		return nil
	}
	w.msg.Attachments = append(w.msg.Attachments, models.Attachment{
		Filename:    filename,
		ContentType: mediaType,
		ContentID:   strings.Trim(strings.TrimSpace(e.Header.Get("Content-Id")), "<>"),
		Data:        data,
	})
	return nil
}

func (w *walker) textPart(e *message.Entity, mediaType, charset string, data []byte) *models.Part {
	cte := strings.ToLower(strings.TrimSpace(e.Header.Get("Content-Transfer-Encoding")))
	text, _ := textenc.Normalize(data, charset, cte)
	return &models.Part{
		Text:              text,
		Charset:           strings.ToLower(charset),
		ContentType:       mediaType,
		TransferEncoding:  cte,
		ContentTypeHeader: e.Header.Get("Content-Type"),
	}
}

func parseDeliveryStatus(data []byte, ds *models.DeliveryStatus) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if strings.EqualFold(strings.TrimSpace(key), "final-recipient") {
			// "rfc822; user@example.com"
			if _, addr, ok := strings.Cut(value, ";"); ok {
				value = addr
			}
			if addr := strings.ToLower(strings.Trim(strings.TrimSpace(value), "<>")); addr != "" {
				ds.FinalRecipients = append(ds.FinalRecipients, addr)
			}
			continue
		}
		if i := strings.IndexAny(value, " \t("); i > 0 {
			value = value[:i]
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "action":
			ds.Actions = append(ds.Actions, strings.ToLower(value))
		case "status":
			ds.Statuses = append(ds.Statuses, value)
		}
	}
}
