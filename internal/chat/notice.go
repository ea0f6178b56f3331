// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"

	"golang.org/x/text/language"
)

// NoticeKind classifies a user-facing notification.
type NoticeKind int

const (
	// NoticeFailed is a generic failure to get a reply.
	NoticeFailed NoticeKind = iota
	// NoticeRateLimited is a failure caused by a 429 from the proxy.
	NoticeRateLimited
	// NoticeUnavailable is a failure caused by a 402 from the proxy.
	NoticeUnavailable
	// NoticeTimeout is a stream that stopped sending bytes.
	NoticeTimeout
)

// String returns the kind name.
func (k NoticeKind) String() string {
	switch k {
	case NoticeRateLimited:
		return "rate_limited"
	case NoticeUnavailable:
		return "unavailable"
	case NoticeTimeout:
		return "timeout"
	default:
		return "failed"
	}
}

// Notice is a transient notification for the end user. Text never contains
// raw error detail.
type Notice struct {
	Kind NoticeKind
	Text string
}

// Notifier receives notices, typically to show a toast.
type Notifier func(Notice)

// supportedLocales lists the languages the site is published in.
var supportedLocales = []language.Tag{
	language.English,
	language.French,
	language.Spanish,
}

var localeMatcher = language.NewMatcher(supportedLocales)

// retryText is indexed like supportedLocales.
var retryText = []string{
	"Unable to get a response. Please try again.",
	"Impossible d'obtenir une réponse. Veuillez réessayer.",
	"No se pudo obtener una respuesta. Inténtalo de nuevo.",
}

// RetryMessage returns the generic failure text for locale, falling back to
// English for unknown or unparsable locales.
func RetryMessage(locale string) string {
	tag, err := language.Parse(locale)
	if err != nil {
		return retryText[0]
	}
	_, idx, _ := localeMatcher.Match(tag)
	return retryText[idx]
}

// noticeFor classifies err into a notice for locale.
func noticeFor(err error, locale string) Notice {
	kind := NoticeFailed
	switch {
	case errors.Is(err, ErrRateLimited):
		kind = NoticeRateLimited
	case errors.Is(err, ErrServiceUnavailable):
		kind = NoticeUnavailable
	case errors.Is(err, ErrIdleTimeout):
		kind = NoticeTimeout
	}
	return Notice{Kind: kind, Text: RetryMessage(locale)}
}
