package platform

import (
	"fmt"
	"strings"
)

// Name identifies the environment the app runs in
type Name string

const (
	Web     Name = "web"
	IOS     Name = "ios"
	Android Name = "android"
)

// Context describes the execution environment. It is read-only and decides
// how CSRF material is attached to outgoing requests.
type Context struct {
	IsNative bool
	Name     Name
}

// Parse builds a Context from a platform name (web, ios or android)
func Parse(name string) (Context, error) {
	switch Name(strings.ToLower(strings.TrimSpace(name))) {
	case "", Web:
		return Context{IsNative: false, Name: Web}, nil
	case IOS:
		return Context{IsNative: true, Name: IOS}, nil
	case Android:
		return Context{IsNative: true, Name: Android}, nil
	default:
		return Context{}, fmt.Errorf("unsupported platform '%s', must be one of: web, ios, android", name)
	}
}

func (c Context) String() string {
	return string(c.Name)
}
