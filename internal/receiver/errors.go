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
	"errors"
	"fmt"
)

// Kind names a rejection reason. It is what the audit record stores.
type Kind string

const (
	KindEmptyEmail             Kind = "empty_email"
	KindScreenedEmail          Kind = "screened_email"
	KindUserNotFound           Kind = "user_not_found"
	KindAutoGeneratedEmail     Kind = "auto_generated_email"
	KindBouncedEmail           Kind = "bounced_email"
	KindNoBodyDetected         Kind = "no_body_detected"
	KindNoSenderDetected       Kind = "no_sender_detected"
	KindFromReplyAddress       Kind = "from_reply_address"
	KindInactiveUser           Kind = "inactive_user"
	KindSilencedUser           Kind = "silenced_user"
	KindBadDestinationAddress  Kind = "bad_destination_address"
	KindStrangersNotAllowed    Kind = "strangers_not_allowed"
	KindInsufficientTrustLevel Kind = "insufficient_trust_level"
	KindReplyUserNotMatching   Kind = "reply_user_not_matching"
	KindReplyNotAllowed        Kind = "reply_not_allowed"
	KindTopicNotFound          Kind = "topic_not_found"
	KindTopicClosed            Kind = "topic_closed"
	KindInvalidPost            Kind = "invalid_post"
	KindInvalidPostAction      Kind = "invalid_post_action"
	KindUnsubscribeNotAllowed  Kind = "unsubscribe_not_allowed"
	KindEmailNotAllowed        Kind = "email_not_allowed"

	// KindInternal marks collaborator or storage failures outside the
	// rejection taxonomy.
	KindInternal Kind = "internal"
)

// Error is a rejection of one message. Compare with errors.Is against the
// Err* values; the wrapped cause, if any, is reachable with errors.Unwrap.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrEmptyEmail             = &Error{Kind: KindEmptyEmail}
	ErrScreenedEmail          = &Error{Kind: KindScreenedEmail}
	ErrUserNotFound           = &Error{Kind: KindUserNotFound}
	ErrAutoGeneratedEmail     = &Error{Kind: KindAutoGeneratedEmail}
	ErrNoBodyDetected         = &Error{Kind: KindNoBodyDetected}
	ErrNoSenderDetected       = &Error{Kind: KindNoSenderDetected}
	ErrFromReplyAddress       = &Error{Kind: KindFromReplyAddress}
	ErrInactiveUser           = &Error{Kind: KindInactiveUser}
	ErrSilencedUser           = &Error{Kind: KindSilencedUser}
	ErrBadDestinationAddress  = &Error{Kind: KindBadDestinationAddress}
	ErrStrangersNotAllowed    = &Error{Kind: KindStrangersNotAllowed}
	ErrInsufficientTrustLevel = &Error{Kind: KindInsufficientTrustLevel}
	ErrReplyUserNotMatching   = &Error{Kind: KindReplyUserNotMatching}
	ErrReplyNotAllowed        = &Error{Kind: KindReplyNotAllowed}
	ErrTopicNotFound          = &Error{Kind: KindTopicNotFound}
	ErrTopicClosed            = &Error{Kind: KindTopicClosed}
	ErrInvalidPost            = &Error{Kind: KindInvalidPost}
	ErrInvalidPostAction      = &Error{Kind: KindInvalidPostAction}
	ErrUnsubscribeNotAllowed  = &Error{Kind: KindUnsubscribeNotAllowed}
	ErrEmailNotAllowed        = &Error{Kind: KindEmailNotAllowed}
)

func reject(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Err: cause}
}

// KindOf returns the rejection kind of err, or KindInternal for errors
// outside the taxonomy.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

var rejectionKinds = map[Kind]bool{
	KindEmptyEmail: true, KindScreenedEmail: true, KindUserNotFound: true,
	KindAutoGeneratedEmail: true, KindBouncedEmail: true, KindNoBodyDetected: true,
	KindNoSenderDetected: true, KindFromReplyAddress: true, KindInactiveUser: true,
	KindSilencedUser: true, KindBadDestinationAddress: true, KindStrangersNotAllowed: true,
	KindInsufficientTrustLevel: true, KindReplyUserNotMatching: true, KindReplyNotAllowed: true,
	KindTopicNotFound: true, KindTopicClosed: true, KindInvalidPost: true,
	KindInvalidPostAction: true, KindUnsubscribeNotAllowed: true, KindEmailNotAllowed: true,
}

// knownKind reports whether s is the stored name of a rejection kind.
func knownKind(s string) bool {
	return rejectionKinds[Kind(s)]
}
