package core

import "github.com/google/uuid"

// Token is a 128-bit random identifier rendered in canonical 36-byte
// UUID text form. It keys a Token Cache entry. Tokens are not
// single-use: a token remains usable by any number of control-packet
// or query-server consumers until its TTL elapses.
type Token string

// NewToken mints a fresh random Token.
func NewToken() Token {
	return Token(uuid.NewString())
}

// TokenLen is the length in bytes of a Token's canonical textual
// form, used by the UDP data plane to size control-packet parsing.
const TokenLen = 36

// ParseToken validates that s has the shape of a canonical Token and
// returns it. It does not verify the token is registered in any
// cache — that is the Token Cache's job.
func ParseToken(s string) (Token, bool) {
	if _, err := uuid.Parse(s); err != nil {
		return "", false
	}
	return Token(s), true
}
