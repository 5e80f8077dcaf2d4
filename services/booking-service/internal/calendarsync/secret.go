package calendarsync

import "log/slog"

const redacted = "[redacted]"

// Secret holds an OAuth token. Every rendering of it except Reveal prints
// a placeholder, so it can ride through structs that get logged or encoded.
type Secret struct {
	v string
}

func NewSecret(v string) Secret { return Secret{v: v} }

func (s Secret) Reveal() string { return s.v }

func (s Secret) Empty() bool { return s.v == "" }

func (Secret) String() string { return redacted }

func (Secret) GoString() string { return redacted }

func (Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

func (Secret) LogValue() slog.Value { return slog.StringValue(redacted) }
