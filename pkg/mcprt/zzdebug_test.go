package mcprt

import (
	"fmt"
	"testing"

	"github.com/traefik/yaegi/interp"
)

func TestDebugYaegi3(t *testing.T) {
	i := interp.New(interp.Options{})
	if err := i.Use(prunedSymbols(nil)); err != nil {
		t.Fatal(err)
	}
	if err := i.Use(toolSymbols); err != nil {
		t.Fatal(err)
	}
	if _, err := i.Eval(wrapScript(validScriptBody)); err != nil {
		t.Fatal(err)
	}
	if _, err := i.Eval("var __runnerCheck tool.Runner = &main.Greet{}"); err != nil {
		fmt.Println("eval check err:", err)
	}
	v, err := i.Eval("__runnerCheck")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Printf("type: %T\n", v.Interface())
	if r, ok := v.Interface().(interface{}); ok {
		fmt.Println("ok iface", r)
	}
}
