// The main package for the fxnews executable.
package main

import (
	"github.com/JakeFAU/fxnews-crawler/cmd"
)

func main() {
	cmd.Execute()
}
