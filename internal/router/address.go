package router

import (
	"strconv"
	"strings"

	"github.com/npezzotti/go-polyglot/internal/presence"
)

// Address names a delivery room. It is derived from identities only, so two
// sides of a conversation compute the same value without coordinating.
type Address struct {
	key string
}

func (a Address) String() string {
	return a.key
}

func (a Address) IsZero() bool {
	return a.key == ""
}

// PersonalAddress is the channel for whoever is listening for identity.
func PersonalAddress(identity presence.Identity) Address {
	var b strings.Builder
	b.WriteString("user/")
	writeSegment(&b, identity)
	return Address{key: b.String()}
}

// PairAddress is the conversation channel of two identities. It is
// commutative, and each identity is length prefixed so distinct pairs never
// share an address.
func PairAddress(a, b presence.Identity) Address {
	if b < a {
		a, b = b, a
	}

	var sb strings.Builder
	sb.WriteString("pair/")
	writeSegment(&sb, a)
	writeSegment(&sb, b)
	return Address{key: sb.String()}
}

func writeSegment(b *strings.Builder, id presence.Identity) {
	b.WriteString(strconv.Itoa(len(id)))
	b.WriteByte(':')
	b.WriteString(string(id))
}
