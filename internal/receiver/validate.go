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

package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/mdheller/discourse/internal/address"
	"github.com/mdheller/discourse/internal/destination"
	"github.com/mdheller/discourse/internal/models"
)

var (
	verpKey = regexp.MustCompile(`(?i)\+verp-([0-9a-f]{32})@`)

	autoPrecedence = regexp.MustCompile(`(?i)list|junk|bulk|auto_reply`)
	autoSender     = regexp.MustCompile(`(?i)(mailer[\-_]?daemon|post[\-_]?master|no[\-_]?reply)@`)
	autoSubject    = regexp.MustCompile(`(?i)^\s*(auto:|automatic reply|autosvar|automatisk svar|automatisch antwoord|abwesenheitsnotiz|risposta non al computer|auto response|respuesta automática|fuori sede|out of office|frånvaro|réponse automatique)`)
	autoHeader     = regexp.MustCompile(`(?im)^(auto-submitted:[ \t]*auto|x-autoreply:|x-autorespond:|x-auto-response-suppress:|x-autogenerated:)`)
)

// run drives the attempt from locked to routed.
func (r *Receiver) run(ctx context.Context, a *attempt) (*models.Outcome, error) {
	msg := a.msg

	a.sender, _ = address.Parse(msg.From)
	key := BounceKey(msg)
	var emailLog *models.EmailLog
	if key != "" {
		var err error
		if emailLog, err = r.deps.Conversations.FindEmailLog(ctx, key); err != nil {
			return nil, fmt.Errorf("find email log: %w", err)
		}
		if emailLog != nil {
			a.sender = &models.Address{Address: strings.ToLower(emailLog.ToAddress)}
		}
	}
	a.enter(stateParsed)

	if msg.Delivery.Failed() || key != "" {
		return r.bounce(ctx, a, emailLog)
	}
	if err := r.validate(ctx, a); err != nil {
		return nil, err
	}
	a.enter(stateValidated)

	return r.route(ctx, a)
}

// BounceKey returns the VERP key carried by a recipient address, or "".
func BounceKey(msg *models.IncomingMessage) string {
	for _, addr := range destination.CandidateAddresses(msg) {
		if m := verpKey.FindStringSubmatch(addr); m != nil {
			return strings.ToLower(m[1])
		}
	}
	return ""
}

func (r *Receiver) validate(ctx context.Context, a *attempt) error {
	if a.sender == nil || a.sender.Address == "" {
		return ErrNoSenderDetected
	}
	from := a.sender.Address
	if r.pattern.Match(from) {
		return ErrFromReplyAddress
	}

	screened, err := r.deps.Identities.IsScreened(ctx, from)
	if err != nil {
		return fmt.Errorf("check screened address: %w", err)
	}
	if screened {
		return ErrScreenedEmail
	}

	identity, err := r.deps.Identities.FindIdentity(ctx, from)
	if err != nil {
		return fmt.Errorf("find identity: %w", err)
	}
	switch {
	case identity == nil && !r.cfg.EnableStagedUsers:
		return ErrUserNotFound
	case identity != nil && !identity.Active && !identity.Staged:
		return ErrInactiveUser
	case identity != nil && identity.Silenced:
		return ErrSilencedUser
	}
	a.identity = identity

	if a.destinations, err = r.resolver.ResolveAll(ctx, a.msg); err != nil {
		return fmt.Errorf("resolve destinations: %w", err)
	}
	a.mirror = destination.IsMailingListMirror(a.destinations)

	if !a.mirror && r.isAutoGenerated(a.msg, from) {
		a.record.IsAutoGenerated = true
		if r.cfg.BlockAutoGenerated {
			return ErrAutoGeneratedEmail
		}
	}
	return nil
}

func (r *Receiver) isAutoGenerated(msg *models.IncomingMessage, from string) bool {
	if containsFold(r.cfg.AutoGeneratedAllowList, from) {
		return false
	}
	return autoPrecedence.MatchString(msg.Precedence) ||
		autoSender.MatchString(from) ||
		autoSubject.MatchString(msg.Subject) ||
		autoHeader.MatchString(msg.HeaderText)
}

// bounce flags the record, marks the tracked e-mail and scores the sender,
// which is the tracked recipient when the VERP key resolved. Soft scores
// apply to 4.x.x statuses.
func (r *Receiver) bounce(ctx context.Context, a *attempt, emailLog *models.EmailLog) (*models.Outcome, error) {
	a.record.IsBounce = true
	a.record.Error = string(KindBouncedEmail)
	status := a.msg.Delivery.FirstStatus()

	if emailLog != nil {
		if err := r.deps.Conversations.MarkBounced(ctx, emailLog.ID, status); err != nil {
			return nil, fmt.Errorf("mark email log bounced: %w", err)
		}
	}

	var addr string
	if a.sender != nil {
		addr = a.sender.Address
	}

	if addr != "" && r.deps.Bounces != nil {
		score := r.cfg.HardBounceScore
		if strings.HasPrefix(status, "4") {
			score = r.cfg.SoftBounceScore
		}
		applied, err := r.deps.Bounces.Update(ctx, addr, score)
		if err != nil {
			return nil, fmt.Errorf("update bounce score: %w", err)
		}
		slog.Info("bounce recorded",
			"message_id", a.msg.MessageID,
			"address", addr,
			"status", status,
			"score", score,
			"applied", applied,
		)
	}
	a.enter(stateRouted)
	return &models.Outcome{Kind: models.OutcomeBounced}, nil
}
