// Package logging provides the structured logger for remedyd.
//
// It wraps go.uber.org/zap with context-aware methods that automatically
// attach trace, session, and request correlation fields pulled from the
// context.
package logging
