// Package services defines the business logic for bots, share links,
// credentials, usage accounting, and the chat relay. This file centralizes
// service-level error values so callers can branch on them with errors.Is.
//
// Translation into HTTP status codes is performed by the handlers package.
package services

import "errors"

var (
	// ErrInvalidRequest is returned when a chat request is malformed: empty
	// message, bad history role, or no way to address a bot.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized is returned when an owner-mode request carries no
	// resolved identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrBotNotFound indicates that the bot does not exist or is not
	// accessible to the caller.
	ErrBotNotFound = errors.New("bot not found")

	// ErrShareNotFound is returned for unknown, revoked, or expired share tokens.
	ErrShareNotFound = errors.New("share link not found")

	// ErrCredentialMissing is returned when neither the owner nor the platform
	// has an upstream API key.
	ErrCredentialMissing = errors.New("no OpenRouter API key configured")

	// ErrUpstreamExhausted is returned when every candidate model failed.
	ErrUpstreamExhausted = errors.New("all upstream models failed")

	// ErrInvalidBot is returned when a bot create/update carries invalid fields.
	ErrInvalidBot = errors.New("invalid bot")

	// ErrSealing is returned when the credentials key is not configured.
	ErrSealing = errors.New("credential encryption is not configured")
)
