package security

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Operation is a CRUD operation checked against the policy.
type Operation string

const (
	OpFetch  Operation = "fetch"
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpRemove Operation = "remove"
)

func (o Operation) valid() bool {
	switch o {
	case OpFetch, OpAdd, OpUpdate, OpRemove:
		return true
	}
	return false
}

// AdminUser is an authenticated console user.
type AdminUser struct {
	ID    string   `yaml:"id" json:"id"`
	Login string   `yaml:"login" json:"login"`
	Name  string   `yaml:"name" json:"name"`
	Roles []string `yaml:"roles" json:"roles"`
}

func (u *AdminUser) HasRole(role string) bool {
	if u == nil {
		return false
	}
	return slices.ContainsFunc(u.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

func (u *AdminUser) hasAnyRole(roles []string) bool {
	for _, r := range roles {
		if u.HasRole(r) {
			return true
		}
	}
	return false
}

// Permission grants roles a set of operations on a class and its subclasses.
type Permission struct {
	Class string      `yaml:"class"`
	Ops   []Operation `yaml:"ops"`
	Roles []string    `yaml:"roles"`
}

// RowRule denies operations on matching records. Without Field the rule
// applies to every record of the class. Users holding an Exempt role pass.
type RowRule struct {
	Class  string      `yaml:"class"`
	Ops    []Operation `yaml:"ops"`
	Field  string      `yaml:"field,omitempty"`
	Value  string      `yaml:"value,omitempty"`
	Exempt []string    `yaml:"exempt,omitempty"`
}

// Policy is the parsed security file.
type Policy struct {
	SuperRoles  []string     `yaml:"superRoles"`
	Users       []*AdminUser `yaml:"users"`
	Permissions []Permission `yaml:"permissions"`
	RowRules    []RowRule    `yaml:"rowRules"`
}

// LoadPolicy reads a yaml security policy.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (*Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("security policy: %w", err)
	}
	for i, perm := range p.Permissions {
		if perm.Class == "" {
			return nil, fmt.Errorf("security policy: permission #%d has no class", i+1)
		}
		if err := checkOps(perm.Ops); err != nil {
			return nil, fmt.Errorf("security policy: permission %s: %w", perm.Class, err)
		}
	}
	for i, r := range p.RowRules {
		if r.Class == "" {
			return nil, fmt.Errorf("security policy: row rule #%d has no class", i+1)
		}
		if err := checkOps(r.Ops); err != nil {
			return nil, fmt.Errorf("security policy: row rule %s: %w", r.Class, err)
		}
	}
	return &p, nil
}

func checkOps(ops []Operation) error {
	if len(ops) == 0 {
		return fmt.Errorf("no ops")
	}
	for _, op := range ops {
		if !op.valid() {
			return fmt.Errorf("unknown op %q", op)
		}
	}
	return nil
}

// UserDirectory looks users up by login or id.
type UserDirectory struct {
	byLogin map[string]*AdminUser
	byID    map[string]*AdminUser
}

func NewUserDirectory(users []*AdminUser) (*UserDirectory, error) {
	d := &UserDirectory{byLogin: map[string]*AdminUser{}, byID: map[string]*AdminUser{}}
	for _, u := range users {
		if u.Login == "" {
			return nil, fmt.Errorf("user %q has no login", u.ID)
		}
		if u.ID == "" {
			u.ID = u.Login
		}
		if u.Name == "" {
			u.Name = u.Login
		}
		login := strings.ToLower(u.Login)
		if _, dup := d.byLogin[login]; dup {
			return nil, fmt.Errorf("duplicate user login %q", u.Login)
		}
		if _, dup := d.byID[u.ID]; dup {
			return nil, fmt.Errorf("duplicate user id %q", u.ID)
		}
		d.byLogin[login] = u
		d.byID[u.ID] = u
	}
	return d, nil
}

func (d *UserDirectory) ByLogin(login string) (*AdminUser, bool) {
	u, ok := d.byLogin[strings.ToLower(strings.TrimSpace(login))]
	return u, ok
}

func (d *UserDirectory) ByID(id string) (*AdminUser, bool) {
	u, ok := d.byID[id]
	return u, ok
}
