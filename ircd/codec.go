// Package ircd implements the client-facing IRC protocol: wire codec,
// connection actor, SASL, channel engine, and message routing.
package ircd

import (
	"strings"
)

// maxLineLength is the conventional IRC line length limit, including
// the trailing CRLF (RFC 2812 §2.3).
const maxLineLength = 512

// Message is a parsed IRC line: optional IRCv3 tags, optional source
// prefix, a command, and a parameter list where the last parameter may
// be a trailing ":"-prefixed multi-word argument.
type Message struct {
	Tags    map[string]string
	Prefix  string
	Command string
	Params  []string
}

// Param returns the i'th parameter, or "" if there aren't that many.
func (m *Message) Param(i int) string {
	if i < 0 || i >= len(m.Params) {
		return ""
	}
	return m.Params[i]
}

// ParseMessage parses a single IRC line (without the trailing CRLF).
// A malformed line returns (nil, false) — per spec, the caller drops it
// silently rather than erroring the connection.
func ParseMessage(line string) (*Message, bool) {
	if len(line) == 0 {
		return nil, false
	}

	msg := &Message{}

	if strings.HasPrefix(line, "@") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, false
		}
		msg.Tags = parseTags(line[1:sp])
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if strings.HasPrefix(line, ":") {
		sp := strings.IndexByte(line, ' ')
		if sp < 0 {
			return nil, false
		}
		msg.Prefix = line[1:sp]
		line = strings.TrimLeft(line[sp+1:], " ")
	}

	if line == "" {
		return nil, false
	}

	// Split off the trailing parameter, if present.
	var trailing string
	hasTrailing := false
	if idx := strings.Index(line, " :"); idx >= 0 {
		trailing = line[idx+2:]
		hasTrailing = true
		line = line[:idx]
	} else if strings.HasPrefix(line, ":") {
		trailing = line[1:]
		hasTrailing = true
		line = ""
	}

	fields := strings.Fields(line)
	if len(fields) == 0 && !hasTrailing {
		return nil, false
	}
	if len(fields) == 0 {
		// Line was solely a trailing parameter with no command — malformed.
		return nil, false
	}

	msg.Command = strings.ToUpper(fields[0])
	msg.Params = fields[1:]
	if hasTrailing {
		msg.Params = append(msg.Params, trailing)
	}

	return msg, true
}

// parseTags parses the IRCv3 message-tags value (without the leading
// '@'): semicolon-separated key[=value] pairs, with backslash escapes
// per the message-tags spec.
func parseTags(raw string) map[string]string {
	tags := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		if part == "" {
			continue
		}
		if eq := strings.IndexByte(part, '='); eq >= 0 {
			tags[part[:eq]] = unescapeTagValue(part[eq+1:])
		} else {
			tags[part] = ""
		}
	}
	return tags
}

var tagUnescapes = strings.NewReplacer(
	`\:`, ";",
	`\s`, " ",
	`\\`, `\`,
	`\r`, "\r",
	`\n`, "\n",
)

func unescapeTagValue(v string) string {
	return tagUnescapes.Replace(v)
}

var tagEscapes = strings.NewReplacer(
	`\`, `\\`,
	";", `\:`,
	" ", `\s`,
	"\r", `\r`,
	"\n", `\n`,
)

// Serialize renders a Message back into a wire line, without the
// trailing CRLF.
func (m *Message) Serialize() string {
	var b strings.Builder

	if len(m.Tags) > 0 {
		b.WriteByte('@')
		first := true
		for k, v := range m.Tags {
			if !first {
				b.WriteByte(';')
			}
			first = false
			b.WriteString(k)
			if v != "" {
				b.WriteByte('=')
				b.WriteString(tagEscapes.Replace(v))
			}
		}
		b.WriteByte(' ')
	}

	if m.Prefix != "" {
		b.WriteByte(':')
		b.WriteString(m.Prefix)
		b.WriteByte(' ')
	}

	b.WriteString(m.Command)

	for i, p := range m.Params {
		b.WriteByte(' ')
		if i == len(m.Params)-1 && (strings.ContainsRune(p, ' ') || strings.HasPrefix(p, ":") || p == "") {
			b.WriteByte(':')
		}
		b.WriteString(p)
	}

	return b.String()
}
