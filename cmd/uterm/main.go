package main

import (
	"context"
	"fmt"
	"os"

	"github.com/peco/uterm"
	"github.com/peco/uterm/internal/util"
)

func main() {
	cli := uterm.New()
	if err := cli.Run(context.Background()); err != nil {
		if util.IsIgnorableError(err) {
			if st, ok := util.GetExitStatus(err); ok {
				os.Exit(st)
			}
			return
		}

		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		st, _ := util.GetExitStatus(err)
		os.Exit(st)
	}
}
