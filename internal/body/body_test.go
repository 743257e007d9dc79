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

package body

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdheller/discourse/internal/models"
)

func textMessage(text string) *models.IncomingMessage {
	return &models.IncomingMessage{
		TextPart: &models.Part{Text: text, ContentType: "text/plain", ContentTypeHeader: "text/plain; charset=utf-8"},
	}
}

func TestElide_GmailQuote(t *testing.T) {
	quote := `<div class="gmail_quote"><div>On Mon, Bob wrote:</div><blockquote>old</blockquote></div>`
	raw := `<div dir="ltr">Sounds good</div>` + quote

	newHTML, elidedHTML, name, ok := Elide(raw)
	require.True(t, ok)
	assert.Equal(t, "gmail", name)
	assert.Equal(t, `<div dir="ltr">Sounds good</div>`, newHTML)
	assert.Equal(t, quote, elidedHTML)
}

func TestElide_Heuristics(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		heuristic string
		newHas    []string
		elidedHas []string
		newLacks  []string
	}{
		{
			name:      "outlook signature and hr",
			raw:       `<p>Thanks</p><div id="Signature">Sig</div><p>after sig</p>`,
			heuristic: "outlook",
			newHas:    []string{"Thanks"},
			elidedHas: []string{"Sig", "after sig"},
			newLacks:  []string{"Sig"},
		},
		{
			name:      "outlook reply header",
			raw:       `<p>Answer</p><hr><div id="divRplyFwdMsg">From: Bob</div><div>old</div>`,
			heuristic: "outlook",
			newHas:    []string{"Answer"},
			elidedHas: []string{"<hr/>", "From: Bob", "old"},
			newLacks:  []string{"old"},
		},
		{
			name:      "word section",
			raw:       `<div class="WordSection1"><p>Hello</p><ul><li>item</li></ul><table><tr><td>signature</td></tr></table><p>history</p></div>`,
			heuristic: "word",
			newHas:    []string{"Hello", "item"},
			elidedHas: []string{"signature", "history"},
			newLacks:  []string{"signature", "history"},
		},
		{
			name:      "exchange sections",
			raw:       `<div name="messageBodySection">Body text</div><div name="messageReplySection">Reply text</div>`,
			heuristic: "exchange",
			newHas:    []string{"Body text"},
			elidedHas: []string{"Reply text"},
			newLacks:  []string{"Reply text", "messageBodySection"},
		},
		{
			name:      "apple mail uses last signature",
			raw:       `<div id="AppleMailSignature">early</div><div>New words</div><div id="AppleMailSignature">Sent from my iPhone</div><blockquote>quoted</blockquote>`,
			heuristic: "apple_mail",
			newHas:    []string{"early", "New words"},
			elidedHas: []string{"Sent from my iPhone", "quoted"},
			newLacks:  []string{"iPhone"},
		},
		{
			name:      "mozilla cite prefix",
			raw:       `<p>Mine</p><div class="moz-cite-prefix">On Mon Bob wrote:</div><blockquote>theirs</blockquote>`,
			heuristic: "mozilla",
			newHas:    []string{"Mine"},
			elidedHas: []string{"On Mon Bob wrote:", "theirs"},
			newLacks:  []string{"theirs"},
		},
		{
			name:      "protonmail",
			raw:       `<div>Proton reply</div><div class="protonmail_quote">quoted</div>`,
			heuristic: "protonmail",
			newHas:    []string{"Proton reply"},
			elidedHas: []string{"quoted"},
		},
		{
			name:      "zimbra marker",
			raw:       `<div>Zimbra reply</div><div data-marker="__QUOTED_TEXT__">quoted</div>`,
			heuristic: "zimbra",
			newHas:    []string{"Zimbra reply"},
			elidedHas: []string{"quoted"},
		},
		{
			name:      "newton",
			raw:       `<div>Newton reply</div><div id="cm_replymail_content_wrap">quoted</div>`,
			heuristic: "newton",
			newHas:    []string{"Newton reply"},
			elidedHas: []string{"quoted"},
		},
		{
			name:      "front",
			raw:       `<div>Front reply</div><div class="front-blockquote">quoted</div>`,
			heuristic: "front",
			newHas:    []string{"Front reply"},
			elidedHas: []string{"quoted"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			newHTML, elidedHTML, name, ok := Elide(tt.raw)
			require.True(t, ok)
			assert.Equal(t, tt.heuristic, name)
			for _, s := range tt.newHas {
				assert.Contains(t, newHTML, s)
			}
			for _, s := range tt.elidedHas {
				assert.Contains(t, elidedHTML, s)
			}
			for _, s := range tt.newLacks {
				assert.NotContains(t, newHTML, s)
			}
		})
	}
}

func TestElide_PriorityOrder(t *testing.T) {
	// Both gmail and outlook signatures present: gmail is tried first.
	raw := `<div>new</div><div id="Signature">outlook sig</div><div class="gmail_signature">gmail sig</div>`
	_, elidedHTML, name, ok := Elide(raw)
	require.True(t, ok)
	assert.Equal(t, "gmail", name)
	assert.Equal(t, `<div class="gmail_signature">gmail sig</div>`, elidedHTML)
}

func TestElide_NoMatch(t *testing.T) {
	_, _, _, ok := Elide(`<p>plain html</p>`)
	assert.False(t, ok)
}

func TestExtract_TextPath(t *testing.T) {
	msg := textMessage("Thanks!\n\nOn Mon, Jan 2, 2006 at 3:04 PM, Alice <alice@example.com> wrote:\n> hi there\n")

	res, err := Extract(msg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Thanks!", res.Content)
	assert.Equal(t, "On Mon, Jan 2, 2006 at 3:04 PM, Alice <alice@example.com> wrote:\n> hi there", res.Elided)
	assert.Equal(t, models.FormatPlaintext, res.Format)
}

func TestExtract_SkipTrimming(t *testing.T) {
	msg := textMessage("Thanks!\n\n> hi there")

	res, err := Extract(msg, Options{SkipTrimming: true})
	require.NoError(t, err)
	assert.Equal(t, "Thanks!\n\n> hi there", res.Content)
	assert.Empty(t, res.Elided)
}

func TestExtract_StripsPreviousReplies(t *testing.T) {
	msg := textMessage("My reply\n\n-- \nPrevious Replies\n\nold digest\n")

	res, err := Extract(msg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "My reply", res.Content)
	assert.Equal(t, "My reply", res.Text)
}

func TestExtract_ConvertPlaintextFlowed(t *testing.T) {
	msg := &models.IncomingMessage{
		TextPart: &models.Part{
			Text:              "This is a \nflowed *line*.",
			ContentTypeHeader: `text/plain; charset=utf-8; format=flowed`,
		},
	}

	res, err := Extract(msg, Options{ConvertPlaintext: true})
	require.NoError(t, err)
	assert.Equal(t, `This is a flowed \*line\*.`, res.Content)
}

func TestExtract_HTMLFallbackTrims(t *testing.T) {
	msg := &models.IncomingMessage{
		HTMLPart: &models.Part{Text: `<p>Reply here</p><p>On Mon, Jan 2, 2006, Bob wrote:</p><blockquote>old stuff</blockquote>`},
	}

	res, err := Extract(msg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Reply here", res.Content)
	assert.Equal(t, "On Mon, Jan 2, 2006, Bob wrote:\n\n> old stuff", res.Elided)
	assert.Equal(t, models.FormatMarkdown, res.Format)
	assert.Empty(t, res.Heuristic)
}

func TestExtract_HTMLHeuristic(t *testing.T) {
	msg := &models.IncomingMessage{
		HTMLPart: &models.Part{Text: `<div dir="ltr">Sounds <b>good</b></div><div class="gmail_quote">On Mon, Bob wrote:<blockquote>old</blockquote></div>`},
	}

	res, err := Extract(msg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "Sounds **good**", res.Content)
	assert.Contains(t, res.Elided, "> old")
	assert.Equal(t, "gmail", res.Heuristic)
}

// The prefer-HTML rule is a plain flag check: HTML wins whenever it produced
// markdown, whatever the quality of the text part.
func TestExtract_PreferHTML(t *testing.T) {
	msg := &models.IncomingMessage{
		TextPart: &models.Part{Text: "text version"},
		HTMLPart: &models.Part{Text: "<p>html version</p>"},
	}

	res, err := Extract(msg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "text version", res.Content)
	assert.Equal(t, models.FormatPlaintext, res.Format)

	res, err = Extract(msg, Options{PreferHTML: true})
	require.NoError(t, err)
	assert.Equal(t, "html version", res.Content)
	assert.Equal(t, models.FormatMarkdown, res.Format)

	msg.HTMLPart.Text = "<p>   </p>"
	res, err = Extract(msg, Options{PreferHTML: true})
	require.NoError(t, err)
	assert.Equal(t, "text version", res.Content)
}

func TestExtract_BlankTextFallsBackToHTML(t *testing.T) {
	msg := &models.IncomingMessage{
		TextPart: &models.Part{Text: "  \n "},
		HTMLPart: &models.Part{Text: "<p>only html</p>"},
	}

	res, err := Extract(msg, Options{})
	require.NoError(t, err)
	assert.Equal(t, "only html", res.Content)
}

func TestExtract_NoBody(t *testing.T) {
	_, err := Extract(&models.IncomingMessage{}, Options{})
	assert.ErrorIs(t, err, ErrNoBody)

	msg := &models.IncomingMessage{Attachments: []models.Attachment{{Filename: "a.pdf"}}}
	res, err := Extract(msg, Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Content)
}

func TestTrim(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reply  string
		elided string
	}{
		{"signature", "Hello\n\n-- \nAlice", "Hello", "-- \nAlice"},
		{"original message", "Top\n\n-----Original Message-----\nFrom: x", "Top", "-----Original Message-----\nFrom: x"},
		{"trailing quotes", "Reply\n\n> quoted\n> more", "Reply", "> quoted\n> more"},
		{"only quotes", "> only quote", "> only quote", ""},
		{"header block", "Hi\n\nFrom: Bob <b@x.com>\nSent: Monday\nTo: a@x.com\nSubject: s\n\nold", "Hi", "From: Bob <b@x.com>\nSent: Monday\nTo: a@x.com\nSubject: s\n\nold"},
		{"wrapped reply header", "Sure\n\nOn Mon, Jan 2, 2006 at 3:04 PM, Alice Smith <alice@example.com>\nwrote:\n> hi", "Sure", "On Mon, Jan 2, 2006 at 3:04 PM, Alice Smith <alice@example.com>\nwrote:\n> hi"},
		{"french", "Oui\n\nLe lun. 2 janv. 2006, Alice a écrit :\n> salut", "Oui", "Le lun. 2 janv. 2006, Alice a écrit :\n> salut"},
		{"delimiter", "Body\n________________________________\nold", "Body", "________________________________\nold"},
		{"no markers", "just text\nand more", "just text\nand more", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, elided := Trim(tt.text)
			assert.Equal(t, tt.reply, reply)
			assert.Equal(t, tt.elided, elided)
		})
	}
}

func TestSplitEmbedded(t *testing.T) {
	text := "FYI see below\n\n" +
		"---------- Forwarded message ---------\n" +
		"From: Carol <carol@example.com>\n" +
		"Date: Mon, 2 Jan 2006 15:04:05 -0700\n" +
		"Subject: intro\n" +
		"To: dave@example.com\n" +
		"\n" +
		"Hi Dave, meet Erin."

	before, embedded, ok := SplitEmbedded(text)
	require.True(t, ok)
	assert.Equal(t, "FYI see below", before)
	assert.Equal(t, "From: Carol <carol@example.com>\nDate: Mon, 2 Jan 2006 15:04:05 -0700\nSubject: intro\nTo: dave@example.com\n\nHi Dave, meet Erin.", embedded)
}

func TestSplitEmbedded_QuotedOutlook(t *testing.T) {
	text := "-----Original Message-----\n> From: Bob <bob@example.com>\n> Sent: Monday\n> Subject: hi\n>\n> old body"

	before, embedded, ok := SplitEmbedded(text)
	require.True(t, ok)
	assert.Empty(t, before)
	assert.Equal(t, "From: Bob <bob@example.com>\nSent: Monday\nSubject: hi\n\nold body", embedded)
}

func TestSplitEmbedded_None(t *testing.T) {
	_, _, ok := SplitEmbedded("nothing embedded here\n\n> just a quote")
	assert.False(t, ok)
}

func TestHTMLToMarkdown(t *testing.T) {
	got := HTMLToMarkdown(`<p>Hello <b>world</b></p><p><a href="https://x.com">link</a> <img src="cid:abc" alt="pic"></p><ul><li>one</li><li>two</li></ul><script>alert(1)</script>`)
	assert.Equal(t, "Hello **world**\n\n[link](https://x.com) ![pic](cid:abc)\n\n- one\n- two", got)
}

func TestHTMLToMarkdown_Blockquote(t *testing.T) {
	got := HTMLToMarkdown(`<p>above</p><blockquote><p>quoted one</p><p>quoted two</p></blockquote>`)
	assert.Equal(t, "above\n\n> quoted one\n>\n> quoted two", got)
}

func TestPlainTextToMarkdown(t *testing.T) {
	got := PlainTextToMarkdown("> quoted *bold*\nplain_text http://x.com/a_b\n# not a heading", PlainTextOptions{})
	assert.Equal(t, "> quoted \\*bold\\*\nplain\\_text http://x.com/a_b\n\\# not a heading", got)
}

func TestUnflow(t *testing.T) {
	assert.Equal(t, "This is a flowed line.\nNext", Unflow("This is a \nflowed line.\nNext", false))
	assert.Equal(t, "abcdef", Unflow("abc \ndef", true))
	assert.Equal(t, "> quoted text\nplain", Unflow(">quoted \n>text\nplain", false))
	assert.Equal(t, "-- \nsig", Unflow("-- \nsig", false))
}
