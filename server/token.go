package server

import (
	"bufio"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ndlib/wikistore/acl"
)

// A TokenDecoder validates and decodes the API tokens passed in the
// X-Api-Key header. A token that is not valid, for whatever reason, decodes
// to the user "" with RoleUnknown. An error is returned only if the lookup
// itself failed and the status of the token is unknown.
type TokenDecoder interface {
	TokenDecode(token string) (user string, role Role, err error)
}

// Role says how far a token holder is trusted. The ACLs decide what the
// holder may do with each item.
type Role int

const (
	RoleUnknown Role = iota // anonymous
	RoleKnown               // a logged in user
	RoleTrusted             // a user matching the Trusted acl subject
	RoleAdmin               // may also run maintenance
)

func atoRole(s string) Role {
	switch strings.ToLower(s) {
	case "known":
		return RoleKnown
	case "trusted":
		return RoleTrusted
	case "admin":
		return RoleAdmin
	default:
		return RoleUnknown
	}
}

// principal returns the identity a request with the given token acts as.
func principal(user string, role Role) acl.Principal {
	if role == RoleUnknown || user == "" {
		return acl.Anonymous
	}
	return acl.Principal{
		Name:       user,
		AuthMethod: "token",
		Valid:      true,
		Trusted:    role >= RoleTrusted,
	}
}

// NewAnonymousDecoder returns a TokenDecoder that treats every request as
// anonymous.
func NewAnonymousDecoder() TokenDecoder {
	return anonymousDecoder{}
}

type anonymousDecoder struct{}

func (anonymousDecoder) TokenDecode(token string) (string, Role, error) {
	return "", RoleUnknown, nil
}

// NewListDecoder returns a TokenDecoder backed by the list of users read
// from r. Each line has the form
//
//	<user name>  <role>  <token>
//
// The fields are separated by whitespace, so neither user names nor tokens
// may contain spaces. The role is one of "Known", "Trusted" or "Admin"
// (case insensitive). Empty lines, lines beginning with '#', and lines with
// the wrong number of fields are skipped.
func NewListDecoder(r io.Reader) (TokenDecoder, error) {
	users, err := parseListFile(r)
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool { return users[i].token < users[j].token })
	return listDecoder{users}, nil
}

// NewListDecoderFile reads the token list in the named file.
func NewListDecoderFile(fname string) (TokenDecoder, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewListDecoder(f)
}

func parseListFile(r io.Reader) ([]userEntry, error) {
	var result []userEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		pieces := strings.Fields(scanner.Text())
		if len(pieces) != 3 || pieces[0][0] == '#' {
			continue
		}
		result = append(result, userEntry{
			user:  pieces[0],
			role:  atoRole(pieces[1]),
			token: pieces[2],
		})
	}
	return result, scanner.Err()
}

type userEntry struct {
	token string
	user  string
	role  Role
}

type listDecoder struct {
	data []userEntry
}

func (ld listDecoder) TokenDecode(token string) (string, Role, error) {
	users := ld.data
	i := sort.Search(len(users), func(i int) bool { return users[i].token >= token })
	if token != "" && i < len(users) && users[i].token == token {
		return users[i].user, users[i].role, nil
	}
	return "", RoleUnknown, nil
}
