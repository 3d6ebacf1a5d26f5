// Command matc compiles, analyzes and watches material graph documents.
package main

import "github.com/gogpu/matgraph/cmd/matc/internal/command"

func main() {
	command.Execute()
}
