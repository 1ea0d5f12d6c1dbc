// Command-line code generation for git-derived version information.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	// Name of file to output with Go version code
	outputfile = flag.String("o", "", "")

	// Package of the generated file
	pkg = flag.String("pkg", "main", "")

	// Display usage if true.
	showHelp = flag.Bool("help", false, "")
)

const helpMessage = `
gen-version calls git to generate Go code setting the zroi version string.

Usage: gen-version [-pkg main] -o version.go

      -pkg        =string   Package of the generated file (default "main").
  -h, -help       (flag)    Show help message

`

const code = `// Code generated by gen-version. DO NOT EDIT.

package %s

func init() {
	gitVersion = %q
}
`

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if !strings.HasSuffix(*outputfile, ".go") {
		fmt.Printf("The %q option is required for this program\n", "-o foo.go")
		os.Exit(1)
	}

	gitPath, err := exec.LookPath("git")
	if err != nil {
		fmt.Printf("Unable to find git command; alter PATH?\nError: %v\n", err)
		os.Exit(1)
	}
	out, err := exec.Command(gitPath, "describe", "--abbrev=5", "--tags", "--dirty").Output()
	if err != nil {
		out = []byte("notag")
	}

	goCode := fmt.Sprintf(code, *pkg, strings.TrimSpace(string(out)))
	if err := os.WriteFile(*outputfile, []byte(goCode), 0644); err != nil {
		fmt.Printf("Error saving go code: %v\n", err)
		os.Exit(1)
	}
}
