package main

import (
	"arcadechat/internal/cli"
)

func main() {
	cli.Execute()
}
