package notify

import (
	"fmt"
	"strings"
)

// Template produces notifications by `{var}` substitution into its
// title and message strings.
type Template struct {
	Name     string   `json:"name"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Render substitutes params into the template. Unknown variables stay
// as the literal `{var}` text. The declared severity applies unless
// params carries a "severity" override.
func (t Template) Render(params map[string]any) Notification {
	severity := t.Severity
	if severity == "" {
		severity = SeverityInfo
	}
	if override, ok := params["severity"]; ok {
		switch s := override.(type) {
		case Severity:
			severity = s
		case string:
			severity = Severity(s)
		}
	}
	n := New(substitute(t.Title, params), substitute(t.Message, params), severity)
	return n.WithMetadata("template", t.Name)
}

// substitute replaces every {var} occurrence whose name exists in
// params with the stringified value.
func substitute(s string, params map[string]any) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(s, '{')
		if open < 0 {
			b.WriteString(s)
			return b.String()
		}
		closing := strings.IndexByte(s[open:], '}')
		if closing < 0 {
			b.WriteString(s)
			return b.String()
		}
		closing += open
		name := s[open+1 : closing]
		b.WriteString(s[:open])
		if v, ok := params[name]; ok {
			b.WriteString(fmt.Sprint(v))
		} else {
			b.WriteString(s[open : closing+1])
		}
		s = s[closing+1:]
	}
}
