// Command blockfs is the interactive command interpreter for a blockfs
// image: format or mount a backing file, then drive the filesystem
// through a line-oriented shell (cd, pwd, ls, stat, touch, cat, echo,
// rm, mkdir, rmdir, edit, df, cache, help, exit), using
// golang.org/x/term for prompt detection so piped input doesn't print
// a prompt unconditionally.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/term"

	"github.com/eduos/blockfs/fs"
	"github.com/eduos/blockfs/internal/ferr"
)

func main() {
	var (
		filename string
		format   bool
		sizeMB   uint
	)

	flag.StringVar(&filename, "file", "", "the image filename to mount")
	flag.BoolVar(&format, "format", false, "format the image before mounting")
	flag.UintVar(&sizeMB, "size", 256, "size in megabytes, used only with -format")
	flag.Parse()

	if filename == "" {
		fmt.Fprintln(os.Stderr, "Usage: blockfs -file <path> [-format] [-size MB]")
		os.Exit(1)
	}

	if format {
		if err := fs.Format(filename, uint32(sizeMB)); err != nil {
			fmt.Fprintf(os.Stderr, "blockfs: format failed: %s\n", err)
			os.Exit(1)
		}
	}

	fsys := fs.New(fs.DefaultConfig())
	if err := fsys.Mount(filename); err != nil {
		fmt.Fprintf(os.Stderr, "blockfs: mount failed: %s\n", err)
		os.Exit(1)
	}

	code := runREPL(fsys)
	if err := fsys.Unmount(); err != nil {
		fmt.Fprintf(os.Stderr, "blockfs: unmount failed: %s\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// interactive reports whether stdin is a real terminal, per
// golang.org/x/term's IsTerminal check; a piped script still works, it
// simply doesn't get the "path> " prompt printed before each read.
func interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func runREPL(fsys *fs.FileSystem) int {
	scanner := bufio.NewScanner(os.Stdin)
	prompt := interactive()

	for {
		if prompt {
			fmt.Printf("%s> ", fsys.Pwd())
		}
		if !scanner.Scan() {
			fmt.Println()
			return 0
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		tokens := tokenize(line)
		if len(tokens) == 0 {
			continue
		}

		switch tokens[0] {
		case "exit":
			return 0
		case "help":
			printHelp()
		case "pwd":
			fmt.Println(fsys.Pwd())
		case "cd":
			runCmd(func() error {
				if len(tokens) < 2 {
					return fmt.Errorf("cd: missing path")
				}
				return fsys.Cd(tokens[1])
			})
		case "ls":
			path := ""
			if len(tokens) > 1 {
				path = tokens[1]
			}
			runCmd(func() error { return doLs(fsys, path) })
		case "stat":
			runCmd(func() error {
				if len(tokens) < 2 {
					return fmt.Errorf("stat: missing path")
				}
				return doStat(fsys, tokens[1])
			})
		case "touch":
			runCmd(func() error {
				if len(tokens) < 2 {
					return fmt.Errorf("touch: missing path")
				}
				return fsys.Touch(tokens[1])
			})
		case "cat":
			runCmd(func() error {
				if len(tokens) < 2 {
					return fmt.Errorf("cat: missing path")
				}
				return doCat(fsys, tokens[1])
			})
		case "echo":
			runCmd(func() error { return doEcho(fsys, tokens[1:]) })
		case "rm":
			runCmd(func() error {
				if len(tokens) < 2 {
					return fmt.Errorf("rm: missing path")
				}
				return fsys.Rm(tokens[1])
			})
		case "mkdir":
			runCmd(func() error {
				if len(tokens) < 2 {
					return fmt.Errorf("mkdir: missing path")
				}
				return fsys.Mkdir(tokens[1])
			})
		case "rmdir":
			runCmd(func() error {
				if len(tokens) < 2 {
					return fmt.Errorf("rmdir: missing path")
				}
				return fsys.Rmdir(tokens[1])
			})
		case "edit":
			runCmd(func() error {
				if len(tokens) < 2 {
					return fmt.Errorf("edit: missing path")
				}
				return doEdit(fsys, scanner, tokens[1])
			})
		case "df":
			runCmd(func() error { return doDf(fsys) })
		case "cache":
			runCmd(func() error { return doCache(fsys) })
		default:
			fmt.Printf("unknown command %q (try 'help')\n", tokens[0])
		}
	}
}

func runCmd(f func() error) {
	if err := f(); err != nil {
		fmt.Printf("error: %s (code %d)\n", err, ferr.Code(err))
	}
}

// tokenize splits a command line on whitespace, honoring "..." quoted
// segments as literal tokens.
func tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	hasCur := false

	flush := func() {
		if hasCur {
			tokens = append(tokens, cur.String())
			cur.Reset()
			hasCur = false
		}
	}

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			hasCur = true
		case unicode.IsSpace(r) && !inQuotes:
			flush()
		default:
			cur.WriteRune(r)
			hasCur = true
		}
	}
	flush()
	return tokens
}

func doLs(fsys *fs.FileSystem, path string) error {
	entries, err := fsys.Ls(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		kind := "f"
		if e.Type == 1 {
			kind = "d"
		}
		fmt.Printf("%s %6d %s\n", kind, e.InodeID, e.Name)
	}
	return nil
}

func doStat(fsys *fs.FileSystem, path string) error {
	info, err := fsys.Stat(path)
	if err != nil {
		return err
	}
	kind := "file"
	if info.IsDir {
		kind = "directory"
	}
	fmt.Printf("name: %s\ntype: %s\nsize: %d\nblocks: %d\ncreated: %d\nmodified: %d\n",
		info.Name, kind, info.Size, info.BlockCount, info.CreateTime, info.ModifyTime)
	return nil
}

func doCat(fsys *fs.FileSystem, path string) error {
	content, err := fsys.Cat(path)
	if err != nil {
		return err
	}
	os.Stdout.Write(content)
	if len(content) == 0 || content[len(content)-1] != '\n' {
		fmt.Println()
	}
	return nil
}

// doEcho implements `echo <text>... > <path>`: every token up to a bare
// ">" is content, the token after it is the destination path.
func doEcho(fsys *fs.FileSystem, tokens []string) error {
	gt := -1
	for i, t := range tokens {
		if t == ">" {
			gt = i
			break
		}
	}
	if gt < 0 || gt+1 >= len(tokens) {
		return fmt.Errorf("echo: usage: echo <text>... > <path>")
	}
	content := strings.Join(tokens[:gt], " ")
	path := tokens[gt+1]
	return fsys.WriteFile(path, []byte(content))
}

// doEdit reads lines from stdin until one equals ".exit", then writes
// the accumulated text to path.
func doEdit(fsys *fs.FileSystem, scanner *bufio.Scanner, path string) error {
	var sb strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		if line == ".exit" {
			break
		}
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	return fsys.WriteFile(path, []byte(sb.String()))
}

func doDf(fsys *fs.FileSystem) error {
	du, err := fsys.Df()
	if err != nil {
		return err
	}
	used := du.TotalBlocks - du.FreeBlocks
	fmt.Printf("block size: %d\ntotal blocks: %d\nused blocks: %d\nfree blocks: %d\n",
		du.BlockSize, du.TotalBlocks, used, du.FreeBlocks)
	return nil
}

func doCache(fsys *fs.FileSystem) error {
	stats, err := fsys.CacheStats()
	if err != nil {
		return err
	}
	fmt.Printf("capacity: %d\nresident: %d\ndirty: %d\n", stats.Capacity, stats.Resident, stats.Dirty)
	return nil
}

func printHelp() {
	fmt.Println(`commands:
  cd <path>             change the working directory
  pwd                    print the working directory
  ls [path]              list a directory's entries
  stat <path>            show inode metadata for a path
  touch <path>           create an empty file
  cat <path>             print a file's contents
  echo <text>... > <path>  write text to a file
  rm <path>              remove a file
  mkdir <path>           create a directory
  rmdir <path>           remove an empty directory
  edit <path>            read lines until '.exit', then write them to path
  df                     show block usage
  cache                  show cache occupancy
  help                   show this message
  exit                   unmount and quit`)
}
