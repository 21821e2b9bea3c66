// Package tool defines the contract a script artifact's interpreted type
// must satisfy to be dispatched as a tool. It is the one package every
// script-kind artifact imports, exposed into the sandboxed interpreter
// alongside the pruned standard library.
package tool

import "context"

// Context is the capability set a running script receives: its call
// arguments, the persona/tool identity it is running under, and the sole
// mechanism by which it may invoke another registered tool.
type Context struct {
	Arguments map[string]any
	Persona   string
	ToolName  string
	CallTool  func(ctx context.Context, name string, arguments map[string]any) (string, error)
}

// Base is embedded by script artifacts with no state of their own. It
// carries no behavior; its purpose is purely to give a minimal artifact
// something to embed, mirroring a common abstract-base-class idiom. The
// "exactly one Runner implementer" rule is enforced by the script executor.
type Base struct{}

// Runner is the interface a script artifact's type must implement exactly
// once. The discovery step that locates this single implementer is the Go
// analog of locating the one strict descendant of a base tool class.
type Runner interface {
	Run(ctx context.Context, c *Context) (any, error)
}
