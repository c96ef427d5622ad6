// Command skillport はSkillPortのAPIサーバー、ワーカー、マイグレーションを起動する。
//
//	skillport [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/skillport/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "skillport: %v\n", err)
		os.Exit(1)
	}
}
