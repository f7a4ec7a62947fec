package ami

import (
	"sort"
	"strings"
)

// Action is an outbound AMI request. The ActionID header is assigned by the
// Client when the action is sent.
type Action struct {
	name    string
	headers []header
}

func NewAction(name string) *Action {
	return &Action{name: name}
}

func (a *Action) Name() string { return a.name }

// Set appends a header. Empty values are skipped.
func (a *Action) Set(key, value string) *Action {
	if value == "" {
		return a
	}
	a.headers = append(a.headers, header{Key: key, Value: value})
	return a
}

// Vars appends one Variable header per entry, in key order.
func (a *Action) Vars(vars map[string]string) *Action {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		a.headers = append(a.headers, header{Key: "Variable", Value: k + "=" + vars[k]})
	}
	return a
}

// Encode renders the action in wire form.
func (a *Action) Encode(actionID string) []byte {
	var b strings.Builder
	b.WriteString("Action: ")
	b.WriteString(a.name)
	b.WriteString("\r\n")
	if actionID != "" {
		b.WriteString("ActionID: ")
		b.WriteString(actionID)
		b.WriteString("\r\n")
	}
	for _, h := range a.headers {
		b.WriteString(h.Key)
		b.WriteString(": ")
		b.WriteString(sanitize(h.Value))
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// sanitize strips line breaks so a value cannot inject extra headers.
func sanitize(v string) string {
	return strings.NewReplacer("\r", "", "\n", "").Replace(v)
}
