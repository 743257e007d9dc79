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

// Package models defines the data structures shared across the receiver.
package models

import (
	"strings"
	"time"
)

// Address is a sender or recipient with a lower-cased address and an
// optional display name.
type Address struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// Domain returns the part after the last "@", or "" if there is none.
func (a Address) Domain() string {
	i := strings.LastIndex(a.Address, "@")
	if i < 0 {
		return ""
	}
	return a.Address[i+1:]
}

// Part is a text body part whose bytes have already been recovered into
// valid UTF-8.
type Part struct {
	Text             string `json:"text"`
	Charset          string `json:"charset,omitempty"`
	ContentType      string `json:"content_type"`
	TransferEncoding string `json:"transfer_encoding,omitempty"`

	// ContentTypeHeader is the raw Content-Type value, kept for the
	// format=flowed and delsp parameters.
	ContentTypeHeader string `json:"content_type_header,omitempty"`
}

// Attachment is a file carried by the message.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ContentID   string `json:"content_id,omitempty"`
	Data        []byte `json:"-"`
}

// IsImage reports whether the attachment declares an image content type.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
}

// URL is the cid: reference HTML bodies use to point at this attachment.
func (a Attachment) URL() string {
	if a.ContentID == "" {
		return ""
	}
	return "cid:" + a.ContentID
}

// DeliveryStatus holds the fields of a message/delivery-status report.
type DeliveryStatus struct {
	Report          bool     `json:"report"`
	Actions         []string `json:"actions,omitempty"`
	Statuses        []string `json:"statuses,omitempty"`
	FinalRecipients []string `json:"final_recipients,omitempty"`
}

// Failed reports whether the report says delivery failed, either by an
// action of "failed" or a permanent 5.x.x status.
func (d DeliveryStatus) Failed() bool {
	if !d.Report {
		return false
	}
	for _, a := range d.Actions {
		if strings.EqualFold(a, "failed") {
			return true
		}
	}
	for _, s := range d.Statuses {
		if strings.HasPrefix(s, "5") {
			return true
		}
	}
	return false
}

// FirstStatus returns the first status code, or "".
func (d DeliveryStatus) FirstStatus() string {
	if len(d.Statuses) == 0 {
		return ""
	}
	return d.Statuses[0]
}

// IncomingMessage is one raw e-mail, parsed once and never mutated.
type IncomingMessage struct {
	Raw       []byte `json:"-"`
	MessageID string `json:"message_id"`
	Subject   string `json:"subject"`
	Date      time.Time

	From        string   `json:"from"`
	To          []string `json:"to,omitempty"`
	Cc          []string `json:"cc,omitempty"`
	ForwardedTo []string `json:"x_forwarded_to,omitempty"`
	DeliveredTo []string `json:"delivered_to,omitempty"`
	InReplyTo   []string `json:"in_reply_to,omitempty"`
	References  []string `json:"references,omitempty"`
	Precedence  string   `json:"precedence,omitempty"`
	HeaderText  string   `json:"-"`
	Multipart   bool     `json:"multipart"`
	ContentType string   `json:"content_type"`

	TextPart    *Part          `json:"text_part,omitempty"`
	HTMLPart    *Part          `json:"html_part,omitempty"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Delivery    DeliveryStatus `json:"delivery"`
}

// Recipients returns To and Cc values in header order.
func (m *IncomingMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc))
	out = append(out, m.To...)
	return append(out, m.Cc...)
}
