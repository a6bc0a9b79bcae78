// Command kvs-client is the command-line client for kvs-server, out of core
// scope per spec.md §1. It accepts set/get/rm subcommands, each with its own
// --addr flag, following the flag-per-subcommand idiom of the standard
// library's flag package rather than pulling in a subcommand-routing
// library for three verbs.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/lucasalj/kvs/kvclient"
)

func main() {
	err := run(os.Args[1:])
	if err == nil {
		return
	}
	if _, ok := err.(errKeyNotFoundExit); !ok {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}

func run(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: kvs-client <set|get|rm> [--addr IP:PORT] ARGS")
	}

	switch args[0] {
	case "set":
		fs := flag.NewFlagSet("set", flag.ExitOnError)
		addr := fs.String("addr", "127.0.0.1:4000", "server address IP:PORT")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		rest := fs.Args()
		if len(rest) != 2 {
			return fmt.Errorf("usage: kvs-client set [--addr IP:PORT] KEY VALUE")
		}
		c := kvclient.New(*addr)
		if err := c.SendSet(rest[0], rest[1]); err != nil {
			return err
		}
		return nil

	case "get":
		fs := flag.NewFlagSet("get", flag.ExitOnError)
		addr := fs.String("addr", "127.0.0.1:4000", "server address IP:PORT")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		rest := fs.Args()
		if len(rest) != 1 {
			return fmt.Errorf("usage: kvs-client get [--addr IP:PORT] KEY")
		}
		c := kvclient.New(*addr)
		v, err := c.SendGet(rest[0])
		if err != nil {
			return err
		}
		if v == nil {
			fmt.Println("Key not found")
			return errKeyNotFoundExit{}
		}
		fmt.Println(*v)
		return nil

	case "rm":
		fs := flag.NewFlagSet("rm", flag.ExitOnError)
		addr := fs.String("addr", "127.0.0.1:4000", "server address IP:PORT")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		rest := fs.Args()
		if len(rest) != 1 {
			return fmt.Errorf("usage: kvs-client rm [--addr IP:PORT] KEY")
		}
		c := kvclient.New(*addr)
		if err := c.SendRemove(rest[0]); err != nil {
			if errors.Is(err, kvclient.ErrKeyNotFound) {
				fmt.Fprintln(os.Stderr, "Key not found")
				return errKeyNotFoundExit{}
			}
			return err
		}
		return nil

	default:
		return fmt.Errorf("unknown subcommand %q: must be set, get, or rm", args[0])
	}
}

// errKeyNotFoundExit signals the missing-key exit path (spec.md §6): the
// message has already been printed to the right stream, so main just needs
// a non-nil error to exit 1 without printing anything further.
type errKeyNotFoundExit struct{}

func (errKeyNotFoundExit) Error() string { return "" }
