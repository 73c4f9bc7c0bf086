package editor

import (
	"strings"
	"time"
)

// Normalize makes text use "\n" line endings and end with a newline. With
// stripSpaces, trailing white space is removed from every line.
func Normalize(text string, stripSpaces bool) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if stripSpaces {
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, " \t")
		}
	}
	return strings.Join(lines, "\n") + "\n"
}

// ACLFromText returns the value of the "#acl" processing instructions at
// the top of wiki text. Several lines are joined. The boolean is false if
// there is none.
func ACLFromText(text string) (string, bool) {
	var parts []string
	for _, line := range strings.Split(text, "\n") {
		if !strings.HasPrefix(line, "#") {
			break
		}
		if strings.HasPrefix(line, "##") {
			continue
		}
		word, rest := line[1:], ""
		if i := strings.IndexAny(word, " \t"); i >= 0 {
			word, rest = word[:i], strings.TrimSpace(word[i+1:])
		}
		if strings.EqualFold(word, "acl") {
			parts = append(parts, rest)
		}
	}
	if parts == nil {
		return "", false
	}
	return strings.Join(parts, " "), true
}

// Vars holds the values for variable expansion.
type Vars struct {
	Page  string
	User  string // display name, empty for anonymous users
	Email string
	Time  time.Time
	Extra map[string]string // user defined, override the built in ones
}

// Expand replaces @PAGE@, @TIME@, @DATE@, @ME@, @USERNAME@, @USER@, @SIG@,
// @EMAIL@, @MAILTO@ and the user defined variables in text.
func Expand(text string, v Vars) string {
	if !strings.Contains(text, "@") {
		return text
	}
	now := v.Time.UTC().Format("2006-01-02T15:04:05") + "Z"
	sig := v.User
	if sig == "" {
		sig = "anonymous"
	}
	values := map[string]string{
		"PAGE":     v.Page,
		"TIME":     "<<DateTime(" + now + ")>>",
		"DATE":     "<<Date(" + now + ")>>",
		"ME":       v.User,
		"USERNAME": sig,
		"USER":     "-- " + sig,
		"SIG":      "-- " + sig + " <<DateTime(" + now + ")>>",
		"EMAIL":    "<<MailTo(" + spamSafe(v.Email) + ")>>",
	}
	if v.User != "" && v.Email != "" {
		values["MAILTO"] = "<<MailTo(" + v.Email + ")>>"
	}
	for k, val := range v.Extra {
		values[k] = val
	}
	pairs := make([]string, 0, 2*len(values))
	for k, val := range values {
		pairs = append(pairs, "@"+k+"@", val)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func spamSafe(email string) string {
	email = strings.ReplaceAll(email, "@", " AT ")
	return strings.ReplaceAll(email, ".", " DOT ")
}
