// ./main.go
package main

import (
	"github.com/xkilldash9x/recplay/cmd"
)

func main() {
	cmd.Execute()
}
