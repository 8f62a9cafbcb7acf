// The main package for the social-discovery executable.
package main

import (
	"github.com/lodgekit/social-discovery/cmd"
)

func main() {
	cmd.Execute()
}
