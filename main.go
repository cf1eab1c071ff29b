// The main package for the newscorpus executable.
package main

import (
	"github.com/JakeFAU/newscorpus/cmd"
)

func main() {
	cmd.Execute()
}
