package telegram

import "regexp"

// tokenPattern matches the bot token segment of Bot API URLs, e.g.
// ".../file/bot123456:AA-bc_d/voice/file_1.oga".
var tokenPattern = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_\-]+`)

// RedactToken masks bot tokens in s.
func RedactToken(s string) (redacted string, changed bool) {
	out := tokenPattern.ReplaceAllString(s, "bot[REDACTED_TOKEN]")
	return out, out != s
}

// redactedError hides the token in Error() but keeps the original chain for
// errors.Is and errors.As.
type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }

// redact wraps err when its message carries a bot token. Download URLs
// embed the token, so net/http errors would otherwise leak it into logs.
func redact(err error) error {
	if err == nil {
		return nil
	}
	msg, changed := RedactToken(err.Error())
	if !changed {
		return err
	}
	return &redactedError{msg: msg, err: err}
}
