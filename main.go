package main

import "github.com/kgraph/cli/cmd"

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cmd.Execute(cmd.Metadata{Version: version, Commit: commit})
}
