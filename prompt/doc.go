// Package prompt builds the two messages sent for every turn: a system
// prompt describing the speaking character, and a user message carrying
// the conversation so far. Wording comes from a Locale; ja is the default.
package prompt
