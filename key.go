package async

// Key is a task label. Labels are unique per namespace: registering a second
// task under a live label triggers collision handling (see [Join]).
//
// Keys are comparable. The zero Key means "no label".
type Key struct {
	token *token
	name  string
}

type token struct {
	desc string
}

// Label returns a string key. Labels with the same name are equal.
func Label(name string) Key {
	return Key{name: name}
}

// NewToken returns an opaque key, equal only to itself. The description is
// used only for display.
func NewToken(desc string) Key {
	return Key{token: &token{desc: desc}}
}

// IsZero reports whether k is the zero Key.
func (k Key) IsZero() bool {
	return k.token == nil && k.name == ""
}

func (k Key) String() string {
	if k.token != nil {
		return "Token(" + k.token.desc + ")"
	}
	return k.name
}
